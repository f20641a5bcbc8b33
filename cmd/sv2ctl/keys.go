package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/sv2wire/internal/protocol/noise"
	"github.com/danmuck/sv2wire/internal/protocol/wire"
	"github.com/pterm/pterm"
)

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	authPub, authPriv, err := noise.GenerateAuthorityKey(nil)
	if err != nil {
		return err
	}
	static, err := noise.GenerateStaticKey(nil)
	if err != nil {
		return err
	}
	defer static.Destroy()

	return pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"key", "hex"},
		{"authority_public_key", hex.EncodeToString(authPub)},
		{"authority_private_key", hex.EncodeToString(authPriv.Seed())},
		{"static_public_key", hex.EncodeToString(static.Public[:])},
		{"static_private_key", hex.EncodeToString(static.Private[:])},
	}).Render()
}

func runCert(args []string) error {
	fs := flag.NewFlagSet("cert", flag.ContinueOnError)
	seed := fs.String("authority", "", "hex Ed25519 authority seed")
	staticHex := fs.String("static", "", "hex X25519 responder public key")
	validity := fs.Duration("validity", 24*time.Hour, "certificate lifetime from now")
	if err := fs.Parse(args); err != nil {
		return err
	}

	seedBytes, err := decodeKey("authority", *seed, ed25519.SeedSize)
	if err != nil {
		return err
	}
	staticBytes, err := decodeKey("static", *staticHex, noise.KeyLen)
	if err != nil {
		return err
	}
	var static [noise.KeyLen]byte
	copy(static[:], staticBytes)

	now := time.Now()
	cert, err := noise.SignCertificate(ed25519.NewKeyFromSeed(seedBytes), static, now, now.Add(*validity))
	if err != nil {
		return err
	}
	encoded, err := wire.Marshal(cert)
	if err != nil {
		return err
	}

	return pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"field", "value"},
		{"version", fmt.Sprint(cert.Version)},
		{"valid_from", time.Unix(int64(cert.ValidFrom), 0).UTC().Format(time.RFC3339)},
		{"not_valid_after", time.Unix(int64(cert.NotValidAfter), 0).UTC().Format(time.RFC3339)},
		{"certificate", hex.EncodeToString(encoded)},
	}).Render()
}

func decodeKey(name string, raw string, size int) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("-%s: %w", name, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("-%s: got %d bytes, want %d", name, len(b), size)
	}
	return b, nil
}
