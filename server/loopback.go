package server

import (
	"encoding/base64"
	"errors"
)

// LoopbackKitClass is the type name the production bridge exposes its kit under.
const LoopbackKitClass = "cfca.sadk.cmbc.patch.tools.php.PHPDecryptKitAllInOne"

// LoopbackKit stands in for the certificate-backed bridge kit in development and
// tests. Signing wraps the base64 plaintext in one more base64 layer; since the
// client strips that layer before verifying, verification is the identity.
type LoopbackKit struct{}

func (k *LoopbackKit) SignAndEncryptMessage(privatePath, privatePassword, publicPath, base64Plain string) (string, error) {
	if err := checkCredentials(privatePath, publicPath); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString([]byte(base64Plain)), nil
}

func (k *LoopbackKit) DecryptAndVerifyMessage(privatePath, privatePassword, publicPath, cipher string) (string, error) {
	if err := checkCredentials(privatePath, publicPath); err != nil {
		return "", err
	}
	return cipher, nil
}

func checkCredentials(privatePath, publicPath string) error {
	if privatePath == "" || publicPath == "" {
		return errors.New("key path not configured")
	}
	return nil
}
