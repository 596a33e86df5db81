package interpreter

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// ErrNoKeyring is returned when a signature must be checked but no public
// keys are configured.
var ErrNoKeyring = errors.New("no OpenPGP keyring configured")

// SignatureError reports a distribution whose detached signature is invalid.
type SignatureError struct {
	File string
	Err  error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature check of %s failed: %v", e.File, e.Err)
}

func (e *SignatureError) Unwrap() error { return e.Err }

// VerifySignature checks the detached signature at sigPath (armored or
// binary) of the file at path against an armored public keyring. It returns
// the identity of the signing key.
func VerifySignature(path, sigPath, armoredKeyring string) (string, error) {
	if strings.TrimSpace(armoredKeyring) == "" {
		return "", &SignatureError{File: path, Err: ErrNoKeyring}
	}
	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredKeyring))
	if err != nil {
		return "", &SignatureError{File: path, Err: fmt.Errorf("reading keyring: %w", err)}
	}

	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return "", &SignatureError{File: path, Err: err}
	}
	signed, err := os.Open(path)
	if err != nil {
		return "", &SignatureError{File: path, Err: err}
	}
	defer signed.Close()

	var signer *openpgp.Entity
	if bytes.HasPrefix(bytes.TrimSpace(sig), []byte("-----BEGIN")) {
		signer, err = openpgp.CheckArmoredDetachedSignature(keyring, signed, bytes.NewReader(sig), nil)
	} else {
		signer, err = openpgp.CheckDetachedSignature(keyring, signed, bytes.NewReader(sig), nil)
	}
	if err != nil {
		return "", &SignatureError{File: path, Err: err}
	}
	return identity(signer), nil
}

func identity(e *openpgp.Entity) string {
	if e == nil {
		return ""
	}
	for name := range e.Identities {
		return name
	}
	return fmt.Sprintf("%X", e.PrimaryKey.Fingerprint)
}
