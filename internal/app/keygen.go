package app

import (
	"flag"
	"fmt"
	"io"
	"os"

	"terralink/internal/network"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// RunKeygen prints a node identity in a form that can be pasted into the
// config file (identity.private_key) or passed to the relay with -key.
func RunKeygen(args []string) error {
	return runKeygen(args, os.Stdout)
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	nodePriv := fs.String("node-priv", "", "existing node private key (base64), optional")
	if err := fs.Parse(args); err != nil {
		return err
	}

	nodePrivB64, nodePeerID, err := ensureNodeKey(*nodePriv)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "NODE_PRIV_B64=%s\n", nodePrivB64)
	_, _ = fmt.Fprintf(out, "NODE_PEER_ID=%s\n", nodePeerID.String())
	return nil
}

func ensureNodeKey(nodePrivB64 string) (string, peer.ID, error) {
	var (
		priv crypto.PrivKey
		err  error
	)
	if nodePrivB64 != "" {
		priv, err = network.DecodePrivateKey(nodePrivB64)
	} else {
		priv, _, err = crypto.GenerateEd25519Key(nil)
	}
	if err != nil {
		return "", "", err
	}

	encoded, err := network.EncodePrivateKey(priv)
	if err != nil {
		return "", "", err
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return "", "", err
	}
	return encoded, id, nil
}
