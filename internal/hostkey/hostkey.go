// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hostkey manages the dedicated host key of the tunnel sshd.
package hostkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/utils/v4"
	"golang.org/x/crypto/ssh"
)

var logger = loggo.GetLogger("cluster-tunnel.hostkey")

const comment = "cluster-tunnel host key"

var generateKey = func() (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	return key, err
}

// Ensure checks that a private key is present at path. If it is missing
// and generate is true, a new ed25519 key is written to path with mode
// 0600 and its public half to path.pub. Ensure reports whether it
// generated a key. A missing key with generate false is a NotFound error.
func Ensure(path string, generate bool) (bool, error) {
	if path == "" {
		return false, errors.NotValidf("empty host key path")
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if _, err := ssh.ParsePrivateKey(data); err != nil {
			return false, errors.Annotatef(err, "parsing host key %s", path)
		}
		return false, nil
	}
	if !os.IsNotExist(err) {
		return false, errors.Annotatef(err, "reading host key %s", path)
	}
	if !generate {
		return false, errors.NotFoundf("host key %s", path)
	}
	if err := write(path); err != nil {
		return false, errors.Annotatef(err, "generating host key %s", path)
	}
	logger.Infof("generated host key %s", path)
	return true, nil
}

func write(path string) error {
	key, err := generateKey()
	if err != nil {
		return errors.Trace(err)
	}
	block, err := ssh.MarshalPrivateKey(key, comment)
	if err != nil {
		return errors.Trace(err)
	}
	pub, err := ssh.NewPublicKey(key.Public())
	if err != nil {
		return errors.Trace(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Trace(err)
	}
	if err := utils.AtomicWriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(utils.AtomicWriteFile(path+".pub", ssh.MarshalAuthorizedKey(pub), 0644))
}
