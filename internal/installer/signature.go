package installer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/insecakey/inseca/internal/insecaerr"
)

// VerifyLiveFile checks filename's detached OpenPGP signature
// (filename+".sign") against signingPubKeyFile, mirroring
// Installer._verify_live_file -- upgraded from the original's raw RSA
// PKCS1v15 signature (CryptoX509.CryptoKey.verify) to a detached OpenPGP
// signature, since github.com/ProtonMail/go-crypto is the ecosystem-idiomatic
// tool in this corpus for verifying release artifacts and produces
// signatures any standard `gpg --detach-sign` workflow can create.
// A missing or empty signingPubKeyFile skips verification, matching the
// original's "NOT verifying signature" fallback for unsigned configurations.
func VerifyLiveFile(filename, signingPubKeyFile string) error {
	if signingPubKeyFile == "" {
		return nil
	}
	if _, err := os.Stat(signingPubKeyFile); err != nil {
		return nil
	}

	sigFile := filename + ".sign"
	if _, err := os.Stat(sigFile); err != nil {
		return insecaerr.Wrap(insecaerr.KindSignatureInvalid, fmt.Sprintf("missing expected signature file %q", sigFile), err)
	}

	keyringFile, err := os.Open(signingPubKeyFile)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "open signing public key", err)
	}
	defer keyringFile.Close()
	keyring, err := openpgp.ReadArmoredKeyRing(keyringFile)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "parse signing public key", err)
	}

	signed, err := os.Open(filename)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "open "+filename, err)
	}
	defer signed.Close()

	sig, err := os.Open(sigFile)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "open "+sigFile, err)
	}
	defer sig.Close()

	if _, err := openpgp.CheckDetachedSignature(keyring, signed, sig, nil); err != nil {
		return insecaerr.Wrap(insecaerr.KindSignatureInvalid, fmt.Sprintf("signature verification failed for %q", filename), err)
	}
	return nil
}

// VerifyLiveLinuxArtifacts verifies the live ISO itself plus its two
// sibling metadata files, mirroring install()'s three _verify_live_file
// calls before an install or update proceeds.
func VerifyLiveLinuxArtifacts(liveISOFile, signingPubKeyFile string) error {
	if err := VerifyLiveFile(liveISOFile, signingPubKeyFile); err != nil {
		return err
	}
	base := filepath.Dir(liveISOFile)
	if err := VerifyLiveFile(filepath.Join(base, "infos.json"), signingPubKeyFile); err != nil {
		return err
	}
	return VerifyLiveFile(filepath.Join(base, "live-linux.userdata-specs"), signingPubKeyFile)
}
