// Package distfile parses and formats the filenames of Python distribution
// files (sdists and wheels), and maps them onto OCI registry coordinates.
//
// ref source distribution format:
//
//	https://packaging.python.org/en/latest/specifications/source-distribution-format/
//
// ref binary distribution format:
//
//	https://packaging.python.org/en/latest/specifications/binary-distribution-format/
package distfile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pyoci/pyoci/pkg/oci"
	"github.com/pyoci/pyoci/pkg/python/pep503"
)

// TarGz is the Architecture value of a source distribution.
const TarGz = ".tar.gz"

// InvalidNameError indicates a filename that is neither a valid sdist nor a
// valid wheel filename.
type InvalidNameError struct {
	Filename string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid distribution filename: %q", e.Filename)
}

// InvalidArchitectureError indicates an architecture string that matches
// neither ".tar.gz" nor a wheel filename tail.
type InvalidArchitectureError struct {
	Architecture string
}

func (e *InvalidArchitectureError) Error() string {
	return fmt.Sprintf("invalid architecture: %q", e.Architecture)
}

// The distribution segment may not contain "-"; that's the field separator.
// Dots, underscores, and mixed case are accepted on input and normalized away
// per PEP 503.
var (
	reSdist = regexp.MustCompile(regexp.MustCompile(`\s+`).ReplaceAllString(`
		^(?P<distribution>[a-zA-Z0-9](?:[a-zA-Z0-9._]*[a-zA-Z0-9])?)
		-(?P<version>[0-9a-z.+]+)
		\.tar\.gz$`, ``))

	reWheel = regexp.MustCompile(regexp.MustCompile(`\s+`).ReplaceAllString(`
		^(?P<distribution>[a-zA-Z0-9](?:[a-zA-Z0-9._]*[a-zA-Z0-9])?)
		-(?P<version>[0-9a-z.+]+)
		(?:-(?P<build>[0-9][0-9a-zA-Z_.]*))?
		-(?P<python>[0-9a-zA-Z_]+)
		-(?P<abi>[0-9a-zA-Z_]+)
		-(?P<platform>[0-9a-zA-Z_]+)
		\.whl$`, ``))

	reSdistRest = regexp.MustCompile(regexp.MustCompile(`\s+`).ReplaceAllString(`
		^(?P<version>[0-9a-z.+]+)
		\.tar\.gz$`, ``))

	reWheelRest = regexp.MustCompile(regexp.MustCompile(`\s+`).ReplaceAllString(`
		^(?P<version>[0-9a-z.+]+)
		(?:-(?P<build>[0-9][0-9a-zA-Z_.]*))?
		-(?P<python>[0-9a-zA-Z_]+)
		-(?P<abi>[0-9a-zA-Z_]+)
		-(?P<platform>[0-9a-zA-Z_]+)
		\.whl$`, ``))

	reArchitecture = regexp.MustCompile(regexp.MustCompile(`\s+`).ReplaceAllString(`
		^(?:(?:[0-9][0-9a-zA-Z_.]*-)?
		[0-9a-zA-Z_]+
		-[0-9a-zA-Z_]+
		-[0-9a-zA-Z_]+
		\.whl
		|\.tar\.gz)$`, ``))
)

// Name identifies a single distribution file of a Python package.
type Name struct {
	// Distribution is the PEP 503 normalized distribution name.
	Distribution string

	// Namespace is an opaque path prefix under which the package lives in
	// the registry.
	Namespace string

	// FullVersion is the PEP 440 version exactly as it appears in the
	// filename, including any "+local" segment.
	FullVersion string

	// Architecture is TarGz for an sdist, or the wheel filename tail
	// ("{build-}{python}-{abi}-{platform}.whl") for a wheel.
	Architecture string
}

// wheelArch reassembles the Architecture value from a wheel regexp match.
func wheelArch(re *regexp.Regexp, match []string) string {
	arch := strings.Join([]string{
		match[re.SubexpIndex("python")],
		match[re.SubexpIndex("abi")],
		match[re.SubexpIndex("platform")],
	}, "-") + ".whl"
	if build := match[re.SubexpIndex("build")]; build != "" {
		arch = build + "-" + arch
	}
	return arch
}

// Parse parses a distribution filename.  The distribution segment may not
// contain "-"; packaging tools escape it to "_" when building filenames.  Use
// ParseFor when the distribution name is known from elsewhere and the
// filename may be in normalized form.
func Parse(namespace, filename string) (Name, error) {
	if match := reSdist.FindStringSubmatch(filename); match != nil {
		return Name{
			Distribution: pep503.Normalize(match[reSdist.SubexpIndex("distribution")]),
			Namespace:    namespace,
			FullVersion:  match[reSdist.SubexpIndex("version")],
			Architecture: TarGz,
		}, nil
	}
	if match := reWheel.FindStringSubmatch(filename); match != nil {
		return Name{
			Distribution: pep503.Normalize(match[reWheel.SubexpIndex("distribution")]),
			Namespace:    namespace,
			FullVersion:  match[reWheel.SubexpIndex("version")],
			Architecture: wheelArch(reWheel, match),
		}, nil
	}
	return Name{}, &InvalidNameError{Filename: filename}
}

// ParseFor parses a filename whose distribution is already known.  Normalized
// distribution names may contain "-", which makes them indistinguishable from
// the "-" field separators of a bare filename; anchoring on the known
// distribution resolves the split.  There is exactly one "-" position whose
// prefix normalizes to the distribution, since a longer prefix normalizes to
// something strictly longer.
func ParseFor(namespace, distribution, filename string) (Name, error) {
	norm := pep503.Normalize(distribution)
	for i := 0; i < len(filename); i++ {
		if filename[i] != '-' || pep503.Normalize(filename[:i]) != norm {
			continue
		}
		rest := filename[i+1:]
		if match := reSdistRest.FindStringSubmatch(rest); match != nil {
			return Name{
				Distribution: norm,
				Namespace:    namespace,
				FullVersion:  match[reSdistRest.SubexpIndex("version")],
				Architecture: TarGz,
			}, nil
		}
		if match := reWheelRest.FindStringSubmatch(rest); match != nil {
			return Name{
				Distribution: norm,
				Namespace:    namespace,
				FullVersion:  match[reWheelRest.SubexpIndex("version")],
				Architecture: wheelArch(reWheelRest, match),
			}, nil
		}
		break
	}
	return Name{}, &InvalidNameError{Filename: filename}
}

// FromParts reconstructs a Name from the OCI coordinates a package was
// published under.  This is only an exact inverse of Parse when the original
// version contained no "-"; see (Name).OCIReference.
func FromParts(distribution, tag, architecture string) (Name, error) {
	n := Name{Distribution: pep503.Normalize(distribution)}
	n = n.WithOCIReference(tag)
	return n.WithArchitecture(architecture)
}

// WithOCIReference returns a copy of n with FullVersion set from an OCI tag,
// undoing the "+" to "-" substitution of OCIReference.
func (n Name) WithOCIReference(tag string) Name {
	n.FullVersion = strings.ReplaceAll(tag, "-", "+")
	return n
}

// WithArchitecture returns a copy of n with the given architecture, which
// must be TarGz or a wheel filename tail.
func (n Name) WithArchitecture(architecture string) (Name, error) {
	if !reArchitecture.MatchString(architecture) {
		return Name{}, &InvalidArchitectureError{Architecture: architecture}
	}
	n.Architecture = architecture
	return n, nil
}

// Filename returns the filename for n.  The distribution segment is the
// normalized name; the pre-normalization spelling is not recoverable.
func (n Name) Filename() string {
	if n.Architecture == TarGz {
		return n.Distribution + "-" + n.FullVersion + n.Architecture
	}
	return strings.Join([]string{n.Distribution, n.FullVersion, n.Architecture}, "-")
}

func (n Name) String() string {
	return n.Filename()
}

// OCIName returns the registry repository name for n.
func (n Name) OCIName() string {
	return strings.ToLower(n.Namespace + "/" + n.Distribution)
}

// OCIReference returns the registry tag for n's version.  OCI tags may not
// contain "+", and PEP 440 versions may not contain "-", so the substitution
// is reversible.
func (n Name) OCIReference() string {
	return strings.ReplaceAll(n.FullVersion, "+", "-")
}

// Platform returns the OCI platform under which n's manifest is filed in the
// version index.  The wheel compatibility tail rides in Architecture; OS is
// the fixed sentinel "any".
func (n Name) Platform() oci.Platform {
	return oci.Platform{
		Architecture: n.Architecture,
		OS:           "any",
	}
}
