package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "initiator":
		return initiatorTemplate, nil
	case "responder":
		return responderTemplate, nil
	case "plain":
		return plainTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const initiatorTemplate = `# Connects out and authenticates the responder through the authority key.
mode = "noise"
role = "initiator"
# max_chunk_plaintext and rekey_after_* must match on both peers.
max_chunk_plaintext = 65519
rekey_after_messages = 16777216
rekey_after_bytes = 68719476736
max_payload_len = 16777215

# hex Ed25519 public key (32 bytes), from: sv2ctl keygen
authority_public_key = ""
`

const responderTemplate = `# Accepts connections and proves its static key with a certificate.
mode = "noise"
role = "responder"
# max_chunk_plaintext and rekey_after_* must match on both peers.
max_chunk_plaintext = 65519
rekey_after_messages = 16777216
rekey_after_bytes = 68719476736
max_payload_len = 16777215

# hex X25519 private key (32 bytes)
static_private_key = ""
# hex Ed25519 seed (32 bytes); used to issue the certificate at startup
authority_private_key = ""
certificate_validity = "24h"
`

const plainTemplate = `# Trusted link: frames are written without encryption.
mode = "plain"
role = "initiator"
max_payload_len = 16777215
`
