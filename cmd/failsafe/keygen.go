package main

import (
	"fmt"
	"os"

	"github.com/vinayprograms/failsafe/envelope"
)

func runKeygen(args []string) error {
	var alg, name, email, out string
	var force bool
	fs := newFlagSet("keygen", "[flags]")
	fs.StringVar(&alg, "alg", string(envelope.AlgEd25519), "ed25519, dilithium3 or openpgp")
	fs.StringVar(&name, "name", "failsafe server", "OpenPGP user name")
	fs.StringVar(&email, "email", "", "OpenPGP user email")
	fs.StringVarP(&out, "out", "o", "failsafe", "output prefix; writes <out>.key and <out>.pub")
	fs.BoolVar(&force, "force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	kp, err := envelope.GenerateKey(envelope.Algorithm(alg), name, email)
	if err != nil {
		return err
	}
	priv, pub, err := writeKeyPair(kp, out, force)
	if err != nil {
		return err
	}

	fmt.Printf("algorithm:   %s\n", kp.Algorithm)
	fmt.Printf("fingerprint: %s\n", kp.Fingerprint)
	fmt.Printf("private key: %s\n", priv)
	fmt.Printf("public key:  %s\n", pub)
	return nil
}

// writeKeyPair writes the private key 0600 and the public key 0644. Existing
// files are kept unless force is set.
func writeKeyPair(kp *envelope.KeyPair, prefix string, force bool) (string, string, error) {
	priv, pub := prefix+".key", prefix+".pub"

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	if err := writeFile(priv, kp.Private, flags, 0o600); err != nil {
		return "", "", err
	}
	if err := writeFile(pub, kp.Public, flags, 0o644); err != nil {
		return "", "", err
	}
	return priv, pub, nil
}

func writeFile(path string, data []byte, flags int, perm os.FileMode) error {
	f, err := os.OpenFile(path, flags, perm)
	if err != nil {
		return err
	}
	// OpenFile only applies perm on create.
	if err := f.Chmod(perm); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
