// Copyright 2025 The Home Automation Firmwares authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sign implements the RSA-2048 signing scheme which authenticates OTA
// image headers: PKCS#1 v1.5 signatures over the SHA-256 digest of the raw
// header bytes.
package sign

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// KeyBits is the only RSA modulus size accepted for signing and verification.
const KeyBits = 2048

// SignatureSize is the size in bytes of a signature produced by Sign.
const SignatureSize = KeyBits / 8

// KeyError is returned when a key is unusable: it can't be parsed, isn't an
// RSA key or isn't exactly KeyBits bits long.
type KeyError struct {
	Path string
	Err  error
}

func (e *KeyError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid key: %v", e.Err)
	}
	return fmt.Sprintf("invalid key %q: %v", e.Path, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

// IoError is returned when key material can't be read.
type IoError struct {
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("failed to read key %q: %v", e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// PassphraseFunc is called to obtain the passphrase of an encrypted private key.
type PassphraseFunc func() ([]byte, error)

// LoadPrivateKey reads an RSA-2048 private key from the file at path.
//
// PKCS#1, PKCS#8 and OpenSSH encodings are supported. If the key is
// encrypted, passphrase is called to obtain the passphrase; a nil passphrase
// func makes encrypted keys a KeyError.
func LoadPrivateKey(path string, passphrase PassphraseFunc) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &IoError{Path: path, Err: err}
	}
	k, err := ParsePrivateKey(b, passphrase)
	if err != nil {
		var ke *KeyError
		if errors.As(err, &ke) {
			ke.Path = path
		}
		return nil, err
	}
	return k, nil
}

// ParsePrivateKey parses an RSA-2048 private key from its PEM encoding.
func ParsePrivateKey(b []byte, passphrase PassphraseFunc) (*rsa.PrivateKey, error) {
	raw, err := ssh.ParseRawPrivateKey(b)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		if passphrase == nil {
			return nil, &KeyError{Err: errors.New("key is encrypted and no passphrase is available")}
		}
		pass, perr := passphrase()
		if perr != nil {
			return nil, &KeyError{Err: fmt.Errorf("failed to get passphrase: %v", perr)}
		}
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(b, pass)
	}
	if err != nil {
		return nil, &KeyError{Err: err}
	}

	var k *rsa.PrivateKey
	switch t := raw.(type) {
	case *rsa.PrivateKey:
		k = t
	default:
		return nil, &KeyError{Err: fmt.Errorf("unsupported key type %T, want RSA", raw)}
	}
	if err := checkBits(&k.PublicKey); err != nil {
		return nil, err
	}
	return k, nil
}

func checkBits(k *rsa.PublicKey) error {
	if bits := k.N.BitLen(); bits != KeyBits {
		return &KeyError{Err: fmt.Errorf("RSA key is %d bits, want %d", bits, KeyBits)}
	}
	return nil
}

// Sign returns the RSA PKCS#1 v1.5 signature of the SHA-256 digest of msg.
func Sign(key *rsa.PrivateKey, msg []byte) ([SignatureSize]byte, error) {
	var sig [SignatureSize]byte
	if key == nil {
		return sig, &KeyError{Err: errors.New("nil key")}
	}
	if err := checkBits(&key.PublicKey); err != nil {
		return sig, err
	}
	hash := sha256.Sum256(msg)
	s, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hash[:])
	if err != nil {
		return sig, fmt.Errorf("failed to sign: %v", err)
	}
	if len(s) != SignatureSize {
		return sig, fmt.Errorf("signature is %d bytes, want %d", len(s), SignatureSize)
	}
	copy(sig[:], s)
	return sig, nil
}

// Verify checks that sig is a valid signature of msg made by the private key
// corresponding to pub.
func Verify(pub *rsa.PublicKey, msg []byte, sig []byte) error {
	if pub == nil {
		return &KeyError{Err: errors.New("nil key")}
	}
	if err := checkBits(pub); err != nil {
		return err
	}
	if len(sig) < SignatureSize {
		return fmt.Errorf("signature is %d bytes, want %d", len(sig), SignatureSize)
	}
	hash := sha256.Sum256(msg)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, hash[:], sig[:SignatureSize])
}

// ParsePublicKey parses an RSA-2048 public key.
//
// Accepted encodings are DER or PEM in either PKIX (SubjectPublicKeyInfo) or
// PKCS#1 form, X.509 certificates in PEM form and OpenSSH authorized_keys lines.
func ParsePublicKey(b []byte) (*rsa.PublicKey, error) {
	var pub crypto.PublicKey
	var err error

	if block, _ := pem.Decode(b); block != nil {
		switch block.Type {
		case "PUBLIC KEY":
			pub, err = x509.ParsePKIXPublicKey(block.Bytes)
		case "RSA PUBLIC KEY":
			pub, err = x509.ParsePKCS1PublicKey(block.Bytes)
		case "CERTIFICATE":
			var c *x509.Certificate
			if c, err = x509.ParseCertificate(block.Bytes); err == nil {
				pub = c.PublicKey
			}
		default:
			err = fmt.Errorf("unsupported PEM block %q", block.Type)
		}
	} else if sk, _, _, _, serr := ssh.ParseAuthorizedKey(b); serr == nil {
		cpk, ok := sk.(ssh.CryptoPublicKey)
		if !ok {
			return nil, &KeyError{Err: fmt.Errorf("unsupported ssh key type %q", sk.Type())}
		}
		pub = cpk.CryptoPublicKey()
	} else if pub, err = x509.ParsePKIXPublicKey(b); err != nil {
		pub, err = x509.ParsePKCS1PublicKey(b)
	}
	if err != nil {
		return nil, &KeyError{Err: err}
	}

	k, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, &KeyError{Err: fmt.Errorf("unsupported key type %T, want RSA", pub)}
	}
	if err := checkBits(k); err != nil {
		return nil, err
	}
	return k, nil
}

// LoadPublicKey reads and parses the public key in the file at path.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &IoError{Path: path, Err: err}
	}
	k, err := ParsePublicKey(b)
	if err != nil {
		var ke *KeyError
		if errors.As(err, &ke) {
			ke.Path = path
		}
		return nil, err
	}
	return k, nil
}

// MarshalPublicKeyDER returns the DER encoded SubjectPublicKeyInfo of pub,
// which is the form embedded into device firmware.
func MarshalPublicKeyDER(pub *rsa.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(pub)
}
