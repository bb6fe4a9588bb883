// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/rand"
	"math/big"
	"testing"
)

func TestDHGroup14SharedSecretMatches(t *testing.T) {
	dhGroup14Once.Do(initDHGroup14)
	g := dhGroup14

	aPriv, err := rand.Int(rand.Reader, g.p)
	if err != nil {
		t.Fatalf("rand.Int: %v", err)
	}
	bPriv, err := rand.Int(rand.Reader, g.p)
	if err != nil {
		t.Fatalf("rand.Int: %v", err)
	}

	aPub := new(big.Int).Exp(g.g, aPriv, g.p)
	bPub := new(big.Int).Exp(g.g, bPriv, g.p)

	secretA, err := g.diffieHellman(bPub, aPriv)
	if err != nil {
		t.Fatalf("diffieHellman (a side): %v", err)
	}
	secretB, err := g.diffieHellman(aPub, bPriv)
	if err != nil {
		t.Fatalf("diffieHellman (b side): %v", err)
	}
	if secretA.Cmp(secretB) != 0 {
		t.Fatal("both sides must derive the same shared secret")
	}
}

func TestDHGroup14RejectsOutOfBoundsPublic(t *testing.T) {
	dhGroup14Once.Do(initDHGroup14)
	g := dhGroup14

	priv := big.NewInt(42)
	if _, err := g.diffieHellman(big.NewInt(0), priv); err == nil {
		t.Fatal("expected a non-positive peer public value to be rejected")
	}
	if _, err := g.diffieHellman(g.p, priv); err == nil {
		t.Fatal("expected a peer public value >= p to be rejected")
	}
}
