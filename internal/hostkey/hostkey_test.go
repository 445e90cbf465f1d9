// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package hostkey_test

import (
	"crypto/ed25519"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"golang.org/x/crypto/ssh"
	gc "gopkg.in/check.v1"

	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/hostkey"
)

type hostkeySuite struct {
	testing.IsolationSuite

	path string
}

var _ = gc.Suite(&hostkeySuite{})

func (s *hostkeySuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.path = filepath.Join(c.MkDir(), ".ssh", "tunnel_key")
}

func (s *hostkeySuite) TestGenerate(c *gc.C) {
	generated, err := hostkey.Ensure(s.path, true)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(generated, jc.IsTrue)

	info, err := os.Stat(s.path)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Mode().Perm(), gc.Equals, os.FileMode(0600))

	data, err := os.ReadFile(s.path)
	c.Assert(err, jc.ErrorIsNil)
	signer, err := ssh.ParsePrivateKey(data)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(signer.PublicKey().Type(), gc.Equals, ssh.KeyAlgoED25519)

	pubData, err := os.ReadFile(s.path + ".pub")
	c.Assert(err, jc.ErrorIsNil)
	pub, _, _, _, err := ssh.ParseAuthorizedKey(pubData)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(pub.Marshal(), jc.DeepEquals, signer.PublicKey().Marshal())
}

func (s *hostkeySuite) TestExistingKeyIsKept(c *gc.C) {
	_, err := hostkey.Ensure(s.path, true)
	c.Assert(err, jc.ErrorIsNil)
	before, err := os.ReadFile(s.path)
	c.Assert(err, jc.ErrorIsNil)

	generated, err := hostkey.Ensure(s.path, true)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(generated, jc.IsFalse)

	after, err := os.ReadFile(s.path)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(after, jc.DeepEquals, before)
}

func (s *hostkeySuite) TestMissingWithoutGenerate(c *gc.C) {
	_, err := hostkey.Ensure(s.path, false)
	c.Assert(err, jc.Satisfies, errors.IsNotFound)
	_, err = os.Stat(s.path)
	c.Check(os.IsNotExist(err), jc.IsTrue)
}

func (s *hostkeySuite) TestCorruptKey(c *gc.C) {
	c.Assert(os.MkdirAll(filepath.Dir(s.path), 0700), jc.ErrorIsNil)
	c.Assert(os.WriteFile(s.path, []byte("not a key"), 0600), jc.ErrorIsNil)

	_, err := hostkey.Ensure(s.path, true)
	c.Assert(err, gc.ErrorMatches, `parsing host key .*tunnel_key: .*`)
}

func (s *hostkeySuite) TestGenerateFailure(c *gc.C) {
	s.PatchValue(hostkey.GenerateKey, func() (ed25519.PrivateKey, error) {
		return nil, errors.New("no entropy")
	})
	_, err := hostkey.Ensure(s.path, true)
	c.Assert(err, gc.ErrorMatches, `generating host key .*tunnel_key: no entropy`)
}

func (s *hostkeySuite) TestEmptyPath(c *gc.C) {
	_, err := hostkey.Ensure("", true)
	c.Assert(err, jc.Satisfies, errors.IsNotValid)
}
