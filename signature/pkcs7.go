package signature

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"time"
)

var (
	oidSignedData             = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidAttributeSigningTime   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	oidDigestAlgorithmSHA1    = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidDigestAlgorithmSHA256  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidDigestAlgorithmSHA384  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidDigestAlgorithmSHA512  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
	oidDigestAlgorithmMD5     = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 5}
	oidDigestAlgorithmSHA224  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 4}
)

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type signedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo asn1.RawValue
	Certificates     []asn1.RawValue `asn1:"optional,tag:0,set"`
	CRLs             []asn1.RawValue `asn1:"optional,tag:1,set"`
	SignerInfos      []signerInfo    `asn1:"set"`
}

type signerInfo struct {
	Version                   int
	IssuerAndSerialNumber     issuerAndSerialNumber
	DigestAlgorithm           pkix.AlgorithmIdentifier
	AuthenticatedAttributes   []attribute `asn1:"optional,tag:0"`
	DigestEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedDigest           []byte
	UnauthenticatedAttributes []attribute `asn1:"optional,tag:1"`
}

type issuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

type attribute struct {
	Type  asn1.ObjectIdentifier
	Value asn1.RawValue `asn1:"set"`
}

// SignerSummary is the best-effort identity pulled from a PKCS#7 blob.
type SignerSummary struct {
	CommonName      string `json:"common_name,omitempty"`
	Issuer          string `json:"issuer,omitempty"`
	Serial          string `json:"serial,omitempty"`
	DigestAlgorithm string `json:"digest_algorithm,omitempty"`
	SigningTime     string `json:"signing_time,omitempty"`
}

// parseSignerSummary decodes the DER SignedData in a signature /Contents
// value. Anything that fails to parse yields nil; the detail simply omits
// the summary.
func parseSignerSummary(der []byte) *SignerSummary {
	der = trimZeroPadding(der)
	if len(der) == 0 {
		return nil
	}
	var ci contentInfo
	if _, err := asn1.Unmarshal(der, &ci); err != nil {
		return nil
	}
	if !ci.ContentType.Equal(oidSignedData) {
		return nil
	}
	var sd signedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil
	}
	if len(sd.SignerInfos) == 0 {
		return nil
	}
	si := sd.SignerInfos[0]

	summary := &SignerSummary{
		DigestAlgorithm: digestAlgorithmName(si.DigestAlgorithm.Algorithm),
	}
	if si.IssuerAndSerialNumber.SerialNumber != nil {
		summary.Serial = si.IssuerAndSerialNumber.SerialNumber.String()
	}
	var issuer pkix.RDNSequence
	if _, err := asn1.Unmarshal(si.IssuerAndSerialNumber.Issuer.FullBytes, &issuer); err == nil {
		summary.Issuer = issuer.String()
	}
	if cert := matchSignerCert(sd.Certificates, si.IssuerAndSerialNumber); cert != nil {
		summary.CommonName = cert.Subject.CommonName
		if summary.Issuer == "" {
			summary.Issuer = cert.Issuer.String()
		}
	}
	if t, ok := signingTimeAttr(si.AuthenticatedAttributes); ok {
		summary.SigningTime = t.UTC().Format(time.RFC3339)
	}
	return summary
}

// matchSignerCert finds the certificate the signerInfo points at, falling
// back to the first parsable one.
func matchSignerCert(rawCerts []asn1.RawValue, isn issuerAndSerialNumber) *x509.Certificate {
	var first *x509.Certificate
	for _, rc := range rawCerts {
		cert, err := x509.ParseCertificate(rc.FullBytes)
		if err != nil {
			continue
		}
		if first == nil {
			first = cert
		}
		if isn.SerialNumber != nil && cert.SerialNumber.Cmp(isn.SerialNumber) == 0 {
			return cert
		}
	}
	return first
}

func signingTimeAttr(attrs []attribute) (time.Time, bool) {
	for _, a := range attrs {
		if !a.Type.Equal(oidAttributeSigningTime) {
			continue
		}
		var t time.Time
		if _, err := asn1.Unmarshal(a.Value.Bytes, &t); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func digestAlgorithmName(oid asn1.ObjectIdentifier) string {
	switch {
	case oid.Equal(oidDigestAlgorithmSHA256):
		return "SHA-256"
	case oid.Equal(oidDigestAlgorithmSHA1):
		return "SHA-1"
	case oid.Equal(oidDigestAlgorithmSHA384):
		return "SHA-384"
	case oid.Equal(oidDigestAlgorithmSHA512):
		return "SHA-512"
	case oid.Equal(oidDigestAlgorithmSHA224):
		return "SHA-224"
	case oid.Equal(oidDigestAlgorithmMD5):
		return "MD5"
	default:
		return oid.String()
	}
}

// trimZeroPadding strips the null bytes writers pad /Contents with to
// reserve space for the DER blob.
func trimZeroPadding(der []byte) []byte {
	end := len(der)
	for end > 0 && der[end-1] == 0 {
		end--
	}
	return der[:end]
}
