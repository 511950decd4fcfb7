package updater

import (
	"fmt"
	"os"

	"github.com/sigstore/sigstore-go/pkg/bundle"
	"github.com/sigstore/sigstore-go/pkg/root"
	"github.com/sigstore/sigstore-go/pkg/verify"
)

// SignatureBundleVerifier is an optional, additional check layered on top
// of ArchiveVerifier's mandatory embedded-signature check: when a mirror
// publishes a detached sigstore bundle ("<name>.cld.sigstore.json")
// alongside an archive, the Installer validates it against a configured
// certificate-identity policy before install. Absence of a bundle is not
// an error — the archive's own header signature remains the primary gate.
type SignatureBundleVerifier struct {
	identityRegexp string
	oidcIssuer     string
}

func NewSignatureBundleVerifier(identityRegexp, oidcIssuer string) *SignatureBundleVerifier {
	return &SignatureBundleVerifier{identityRegexp: identityRegexp, oidcIssuer: oidcIssuer}
}

// Configured reports whether an identity policy was supplied. Callers use
// this to skip probing a mirror for a sibling bundle file entirely when the
// feature is unused, rather than fetching a bundle only to no-op on it.
func (v *SignatureBundleVerifier) Configured() bool {
	return v.identityRegexp != ""
}

// VerifyBundle checks that artifactPath's bundle at bundlePath was signed
// by an identity matching the configured regexp and OIDC issuer. Returns
// nil if no bundle path is configured (the feature is simply unused).
func (v *SignatureBundleVerifier) VerifyBundle(artifactPath, bundlePath string) error {
	if bundlePath == "" || v.identityRegexp == "" {
		return nil
	}

	b, err := bundle.LoadJSONFromPath(bundlePath)
	if err != nil {
		return statusErr("VerifyBundle", StatusBadArchive, fmt.Errorf("load bundle: %w", err))
	}

	trustedRoot, err := root.FetchTrustedRoot()
	if err != nil {
		return statusErr("VerifyBundle", StatusBadArchive, fmt.Errorf("fetch trusted root: %w", err))
	}

	sev, err := verify.NewVerifier(trustedRoot,
		verify.WithSignedCertificateTimestamps(1),
		verify.WithTransparencyLog(1),
		verify.WithObserverTimestamps(1),
	)
	if err != nil {
		return statusErr("VerifyBundle", StatusBadArchive, fmt.Errorf("build verifier: %w", err))
	}

	certID, err := verify.NewShortCertificateIdentity(v.oidcIssuer, "", "", v.identityRegexp)
	if err != nil {
		return statusErr("VerifyBundle", StatusBadArchive, fmt.Errorf("build identity policy: %w", err))
	}

	artifactFile, err := os.Open(artifactPath)
	if err != nil {
		return statusErr("VerifyBundle", StatusFileError, fmt.Errorf("open artifact: %w", err))
	}
	defer func() { _ = artifactFile.Close() }()

	policy := verify.NewPolicy(verify.WithArtifact(artifactFile), verify.WithCertificateIdentity(certID))
	if _, err := sev.Verify(b, policy); err != nil {
		return statusErr("VerifyBundle", StatusBadArchive, fmt.Errorf("bundle verification failed: %w", err))
	}
	return nil
}
