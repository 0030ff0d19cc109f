package surface

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
)

var (
	// ErrNoDocument is returned when no document reference was supplied.
	ErrNoDocument = errors.New("no document reference")
	// ErrUnsupportedRef is returned for references the provider cannot fetch.
	ErrUnsupportedRef = errors.New("unsupported document reference")
	// ErrPageOutOfRange is returned for page numbers outside 1..PageCount.
	ErrPageOutOfRange = errors.New("page out of range")
)

// RefKind tells the provider how to obtain the document bytes.
type RefKind int

const (
	RefFile RefKind = iota
	RefURL
)

// Ref is a parsed document reference.
type Ref struct {
	Raw      string
	Kind     RefKind
	Location string
}

func (r Ref) String() string {
	return r.Location
}

var (
	arxivURLRegexp = regexp.MustCompile(`(?i)arxiv\.org/(?:abs|pdf)/([0-9a-z.\-/]+?)(?:\.pdf)?$`)
	arxivNewID     = regexp.MustCompile(`^[0-9]{4}\.[0-9]{4,5}(v[0-9]+)?$`)
	arxivOldID     = regexp.MustCompile(`(?i)^[a-z\-]+(\.[a-z]{2})?/[0-9]{7}(v[0-9]+)?$`)
)

// ParseRef accepts local paths, file:// and http(s) URLs, and arXiv
// identifiers or abs/pdf URLs. Existing local files always win over the arXiv
// interpretation.
func ParseRef(input string) (Ref, error) {
	raw := input
	input = strings.TrimSpace(input)
	if input == "" {
		return Ref{}, ErrNoDocument
	}
	if u, err := url.Parse(input); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		switch strings.ToLower(u.Scheme) {
		case "file":
			return Ref{Raw: raw, Kind: RefFile, Location: u.Path}, nil
		case "http", "https":
			if id := arxivIdentifier(input); id != "" {
				return Ref{Raw: raw, Kind: RefURL, Location: arxivPDFURL(id)}, nil
			}
			return Ref{Raw: raw, Kind: RefURL, Location: input}, nil
		case "arxiv":
			if id := arxivIdentifier(input); id != "" {
				return Ref{Raw: raw, Kind: RefURL, Location: arxivPDFURL(id)}, nil
			}
			return Ref{}, fmt.Errorf("%w: %q", ErrUnsupportedRef, input)
		default:
			return Ref{}, fmt.Errorf("%w: scheme %q", ErrUnsupportedRef, u.Scheme)
		}
	}
	if _, err := os.Stat(input); err == nil {
		return Ref{Raw: raw, Kind: RefFile, Location: input}, nil
	}
	if id := arxivIdentifier(input); id != "" {
		return Ref{Raw: raw, Kind: RefURL, Location: arxivPDFURL(id)}, nil
	}
	return Ref{Raw: raw, Kind: RefFile, Location: input}, nil
}

func arxivIdentifier(input string) string {
	input = strings.TrimSpace(input)
	if matches := arxivURLRegexp.FindStringSubmatch(input); len(matches) > 1 {
		return strings.TrimSuffix(matches[1], "/")
	}
	if len(input) >= len("arxiv:") && strings.EqualFold(input[:len("arxiv:")], "arxiv:") {
		input = strings.TrimSpace(input[len("arxiv:"):])
	}
	if len(input) > 4 && strings.EqualFold(input[len(input)-4:], ".pdf") {
		input = input[:len(input)-4]
	}
	if arxivNewID.MatchString(input) || arxivOldID.MatchString(input) {
		return input
	}
	return ""
}

func arxivPDFURL(id string) string {
	return fmt.Sprintf("https://arxiv.org/pdf/%s.pdf", id)
}
