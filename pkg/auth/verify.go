package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	AWSv4Prefix = "AWS4-HMAC-SHA256 "

	amzDateFormat = "20060102T150405Z"
)

var (
	ErrMissingAuth          = errors.New("missing authorization")
	ErrMalformedAuth        = errors.New("malformed authorization")
	ErrUnknownAccessKey     = errors.New("unknown access key")
	ErrSignatureMismatch    = errors.New("signature does not match")
	ErrRequestTimeTooSkewed = errors.New("request time too skewed")
	ErrInvalidToken         = errors.New("invalid security token")
	ErrPayloadHashMismatch  = errors.New("payload hash does not match")
)

// Identity is the caller a Verifier authenticated.
type Identity struct {
	AccessKeyID string
	Signature   string
	Date        time.Time
}

// Verifier checks AWS Signature Version 4 Authorization headers on incoming
// requests.
type Verifier struct {

	// Lookup returns the credential registered for an access key.
	Lookup func(accessKeyID string) (*Credential, bool)

	// MaxSkew bounds the distance between X-Amz-Date and Now. Zero disables
	// the check.
	MaxSkew time.Duration

	Now func() time.Time
}

// NewStaticVerifier creates a Verifier that accepts the given credentials.
func NewStaticVerifier(creds ...*Credential) *Verifier {
	byKey := make(map[string]*Credential, len(creds))
	for _, c := range creds {
		byKey[c.AccessKeyID] = c
	}
	return &Verifier{
		Lookup: func(id string) (*Credential, bool) {
			c, ok := byKey[id]
			return c, ok
		},
		MaxSkew: 15 * time.Minute,
		Now:     time.Now,
	}
}

func awsURLEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
			continue
		}
		if c == '/' && !encodeSlash {
			b.WriteByte(c)
			continue
		}
		b.WriteString("%")
		b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
	}
	return b.String()
}

func canonicalQueryString(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}

	values := u.Query()
	keys := slices.Sorted(maps.Keys(values))

	var parts []string
	for _, k := range keys {
		vs := slices.Clone(values[k])
		slices.Sort(vs)
		for _, v := range vs {
			parts = append(parts, awsURLEncode(k, true)+"="+awsURLEncode(v, true))
		}
	}

	return strings.Join(parts, "&")
}

func canonicalHeaderValue(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// BuildCanonicalRequest renders r the way a SigV4 client saw it before
// signing. The path is taken as already escaped.
func BuildCanonicalRequest(r *http.Request, signedHeaderNames []string, payloadHash string) string {
	canonicalURI := r.URL.EscapedPath()
	if canonicalURI == "" {
		canonicalURI = "/"
	}

	lowerNames := make([]string, 0, len(signedHeaderNames))
	for _, h := range signedHeaderNames {
		if name := strings.ToLower(strings.TrimSpace(h)); name != "" {
			lowerNames = append(lowerNames, name)
		}
	}

	var hdr strings.Builder
	for _, name := range lowerNames {
		var value string
		switch name {
		case "host":
			value = r.Host
			if value == "" {
				value = r.URL.Host
			}
		case "content-length":
			value = strconv.FormatInt(r.ContentLength, 10)
		default:
			vs := r.Header.Values(name)
			cleaned := make([]string, len(vs))
			for i, v := range vs {
				cleaned[i] = canonicalHeaderValue(v)
			}
			value = strings.Join(cleaned, ",")
		}
		hdr.WriteString(name)
		hdr.WriteString(":")
		hdr.WriteString(canonicalHeaderValue(value))
		hdr.WriteString("\n")
	}

	return strings.Join([]string{
		r.Method,
		canonicalURI,
		canonicalQueryString(r.URL),
		hdr.String(),
		strings.Join(lowerNames, ";"),
		payloadHash,
	}, "\n")
}

func HmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

// SigningKey derives the SigV4 signing key for a credential scope.
func SigningKey(secret, dateStamp, region, service string) []byte {
	kDate := HmacSHA256([]byte("AWS4"+secret), dateStamp)
	kRegion := HmacSHA256(kDate, region)
	kService := HmacSHA256(kRegion, service)
	return HmacSHA256(kService, "aws4_request")
}

type authHeader struct {
	accessKeyID   string
	dateStamp     string
	region        string
	service       string
	signedHeaders []string
	signature     string
}

func parseAuthHeader(auth string) (*authHeader, error) {
	if auth == "" {
		return nil, ErrMissingAuth
	}
	if !strings.HasPrefix(auth, AWSv4Prefix) {
		return nil, ErrMalformedAuth
	}

	params := strings.TrimSpace(strings.TrimPrefix(auth, AWSv4Prefix))
	kv := make(map[string]string, 3)
	for p := range strings.SplitSeq(params, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || k == "" {
			continue
		}
		kv[k] = strings.TrimSpace(v)
	}

	credStr, okCred := kv["Credential"]
	signedHeadersStr, okSigned := kv["SignedHeaders"]
	signature, okSig := kv["Signature"]
	if !okCred || !okSigned || !okSig {
		return nil, ErrMalformedAuth
	}

	credParts := strings.Split(credStr, "/")
	if len(credParts) != 5 || credParts[4] != "aws4_request" {
		return nil, ErrMalformedAuth
	}
	if credParts[2] == "" || credParts[3] == "" {
		return nil, ErrMalformedAuth
	}

	return &authHeader{
		accessKeyID:   credParts[0],
		dateStamp:     credParts[1],
		region:        credParts[2],
		service:       credParts[3],
		signedHeaders: strings.Split(signedHeadersStr, ";"),
		signature:     signature,
	}, nil
}

// Verify authenticates r. The body is not read; use CheckPayload once it
// has been consumed.
func (v *Verifier) Verify(r *http.Request) (*Identity, error) {
	ah, err := parseAuthHeader(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}

	cred, ok := v.Lookup(ah.accessKeyID)
	if !ok {
		return nil, ErrUnknownAccessKey
	}
	if cred.SessionToken != "" && r.Header.Get(HeaderSecurityToken) != cred.SessionToken {
		return nil, ErrInvalidToken
	}

	amzDate := r.Header.Get("X-Amz-Date")
	signedAt, err := time.Parse(amzDateFormat, amzDate)
	if err != nil || !strings.HasPrefix(amzDate, ah.dateStamp) {
		return nil, ErrMalformedAuth
	}
	if v.MaxSkew > 0 {
		now := time.Now
		if v.Now != nil {
			now = v.Now
		}
		if d := now().Sub(signedAt); d > v.MaxSkew || d < -v.MaxSkew {
			return nil, ErrRequestTimeTooSkewed
		}
	}

	payloadHash := r.Header.Get(HeaderContentSHA256)
	if payloadHash == "" {
		return nil, ErrMalformedAuth
	}

	canonicalReq := BuildCanonicalRequest(r, ah.signedHeaders, payloadHash)
	crHash := sha256.Sum256([]byte(canonicalReq))

	credentialScope := strings.Join([]string{ah.dateStamp, ah.region, ah.service, "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		credentialScope,
		hex.EncodeToString(crHash[:]),
	}, "\n")

	computed := HmacSHA256(SigningKey(cred.SecretAccessKey, ah.dateStamp, ah.region, ah.service), stringToSign)
	decoded, err := hex.DecodeString(ah.signature)
	if err != nil {
		return nil, ErrMalformedAuth
	}
	if !hmac.Equal(computed, decoded) {
		return nil, ErrSignatureMismatch
	}

	return &Identity{
		AccessKeyID: ah.accessKeyID,
		Signature:   ah.signature,
		Date:        signedAt,
	}, nil
}

// CheckPayload compares the declared X-Amz-Content-Sha256 of r with body.
func CheckPayload(r *http.Request, body []byte) error {
	declared := r.Header.Get(HeaderContentSHA256)
	if declared == UnsignedPayload {
		return nil
	}
	sum := sha256.Sum256(body)
	if declared != hex.EncodeToString(sum[:]) {
		return ErrPayloadHashMismatch
	}
	return nil
}
