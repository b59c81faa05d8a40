package distfile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyoci/pyoci/pkg/python/distfile"
	"github.com/pyoci/pyoci/pkg/testutil"
)

func TestParse(t *testing.T) {
	t.Parallel()
	testcases := map[string]struct {
		Filename string
		Expected distfile.Name
	}{
		"sdist": {
			Filename: "pyoci-0.1.0.tar.gz",
			Expected: distfile.Name{
				Distribution: "pyoci",
				FullVersion:  "0.1.0",
				Architecture: ".tar.gz",
			},
		},
		"sdist-major-only": {
			Filename: "bar-1.tar.gz",
			Expected: distfile.Name{
				Distribution: "bar",
				FullVersion:  "1",
				Architecture: ".tar.gz",
			},
		},
		"sdist-local-version": {
			Filename: "bar-1.0.0.dev4+g1664eb2.d20231017.tar.gz",
			Expected: distfile.Name{
				Distribution: "bar",
				FullVersion:  "1.0.0.dev4+g1664eb2.d20231017",
				Architecture: ".tar.gz",
			},
		},
		"sdist-unnormalized-distribution": {
			Filename: "Some.Package-1.0.tar.gz",
			Expected: distfile.Name{
				Distribution: "some-package",
				FullVersion:  "1.0",
				Architecture: ".tar.gz",
			},
		},
		"wheel": {
			Filename: "pyoci_example-2.5.1.dev4+g1664eb2.d20231017-cp311-cp311-macosx_13_0_x86_64.whl",
			Expected: distfile.Name{
				Distribution: "pyoci-example",
				FullVersion:  "2.5.1.dev4+g1664eb2.d20231017",
				Architecture: "cp311-cp311-macosx_13_0_x86_64.whl",
			},
		},
		"wheel-build-tag": {
			Filename: "baz-2.5.1-1234-cp311-cp311-macosx_13_0_x86_64.whl",
			Expected: distfile.Name{
				Distribution: "baz",
				FullVersion:  "2.5.1",
				Architecture: "1234-cp311-cp311-macosx_13_0_x86_64.whl",
			},
		},
		"wheel-pure": {
			Filename: "distribution-1.0-py27-none-any.whl",
			Expected: distfile.Name{
				Distribution: "distribution",
				FullVersion:  "1.0",
				Architecture: "py27-none-any.whl",
			},
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			actual, err := distfile.Parse("", tc.Filename)
			require.NoError(t, err)
			testutil.AssertEqual(t, tc.Expected, actual)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	testcases := map[string]string{
		"empty":                  "",
		"no-version":             "pyoci.tar.gz",
		"bad-extension":          "pyoci-0.1.0.zip",
		"json":                   "json",
		"wheel-two-tags":         "pkg-1.0-py3-none.whl",
		"wheel-nonnumeric-build": "pkg-1.0-foo-py3-none-any.whl",
		"dash-in-distribution":   "some-package-1.0.tar.gz",
	}
	for tcName, filename := range testcases {
		filename := filename
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			_, err := distfile.Parse("", filename)
			require.Error(t, err)
			var nameErr *distfile.InvalidNameError
			assert.ErrorAs(t, err, &nameErr)
		})
	}
}

func TestParseFor(t *testing.T) {
	t.Parallel()
	testcases := map[string]struct {
		Distribution string
		Filename     string
		Expected     distfile.Name
	}{
		"dash-sdist": {
			Distribution: "pyoci-example",
			Filename:     "pyoci-example-0.1.0.tar.gz",
			Expected: distfile.Name{
				Distribution: "pyoci-example",
				FullVersion:  "0.1.0",
				Architecture: ".tar.gz",
			},
		},
		"dash-wheel-build-tag": {
			Distribution: "a-b",
			Filename:     "a-b-1.0-1234-py3-none-any.whl",
			Expected: distfile.Name{
				Distribution: "a-b",
				FullVersion:  "1.0",
				Architecture: "1234-py3-none-any.whl",
			},
		},
		"unnormalized-distribution": {
			Distribution: "PyOCI.Example",
			Filename:     "pyoci_example-0.1.0.tar.gz",
			Expected: distfile.Name{
				Distribution: "pyoci-example",
				FullVersion:  "0.1.0",
				Architecture: ".tar.gz",
			},
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			actual, err := distfile.ParseFor("", tc.Distribution, tc.Filename)
			require.NoError(t, err)
			testutil.AssertEqual(t, tc.Expected, actual)
		})
	}
}

func TestParseForMismatch(t *testing.T) {
	t.Parallel()
	_, err := distfile.ParseFor("", "other", "pyoci-0.1.0.tar.gz")
	var nameErr *distfile.InvalidNameError
	assert.ErrorAs(t, err, &nameErr)
}

func TestFilenameRoundTrip(t *testing.T) {
	t.Parallel()
	// Parse followed by Filename yields the normalized spelling of the
	// input; for already-normalized filenames it is the identity.
	testcases := map[string]string{
		"sdist":              "pyoci-0.1.0.tar.gz",
		"sdist-full-version": "baz-2.5.1.dev4+g1664eb2.d20231017.tar.gz",
		"wheel":              "baz-1-cp311-cp311-macosx_13_0_x86_64.whl",
		"wheel-full-version": "baz-2.5.1.dev4+g1664eb2.d20231017-1234-cp311-cp311-macosx_13_0_x86_64.whl",
		"unnormalized":       "Some.Package-1.0.tar.gz",
	}
	normalized := map[string]string{
		"unnormalized": "some-package-1.0.tar.gz",
	}
	for tcName, input := range testcases {
		input := input
		expected := input
		if n, ok := normalized[tcName]; ok {
			expected = n
		}
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			pkg, err := distfile.Parse("", input)
			require.NoError(t, err)
			assert.Equal(t, expected, pkg.Filename())
		})
	}
}

func TestOCIMapping(t *testing.T) {
	t.Parallel()
	pkg, err := distfile.Parse("acme", "pyoci_example-2.5.1.dev4+g1664eb2.d20231017-cp311-cp311-macosx_13_0_x86_64.whl")
	require.NoError(t, err)

	assert.Equal(t, "acme/pyoci-example", pkg.OCIName())
	assert.Equal(t, "2.5.1.dev4-g1664eb2.d20231017", pkg.OCIReference())

	plat := pkg.Platform()
	assert.Equal(t, "cp311-cp311-macosx_13_0_x86_64.whl", plat.Architecture)
	assert.Equal(t, "any", plat.OS)
}

func TestOCINameLowercases(t *testing.T) {
	t.Parallel()
	pkg, err := distfile.Parse("ACME", "pyoci-0.1.0.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "acme/pyoci", pkg.OCIName())
}

func TestFromParts(t *testing.T) {
	t.Parallel()
	testcases := map[string]struct {
		Tag          string
		Architecture string
		FullVersion  string
	}{
		"plain": {
			Tag:          "0.1.0",
			Architecture: ".tar.gz",
			FullVersion:  "0.1.0",
		},
		"local-version": {
			Tag:          "2.5.1.dev4-g1664eb2.d20231017",
			Architecture: "cp311-cp311-macosx_13_0_x86_64.whl",
			FullVersion:  "2.5.1.dev4+g1664eb2.d20231017",
		},
		"build-tag": {
			Tag:          "1.0",
			Architecture: "1234-cp311-cp311-linux_x86_64.whl",
			FullVersion:  "1.0",
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			pkg, err := distfile.FromParts("pyoci", tc.Tag, tc.Architecture)
			require.NoError(t, err)
			assert.Equal(t, tc.FullVersion, pkg.FullVersion)
			assert.Equal(t, tc.Architecture, pkg.Architecture)
			// The tag mapping must invert exactly when the original version
			// contained no "-".
			assert.Equal(t, tc.Tag, pkg.OCIReference())
		})
	}
}

func TestWithArchitectureInvalid(t *testing.T) {
	t.Parallel()
	testcases := map[string]string{
		"empty":       "",
		"not-a-tail":  "linux",
		"bad-suffix":  "cp311-cp311-linux_x86_64.zip",
		"one-segment": "cp311.whl",
		"trailing-gz": "tar.gz",
	}
	for tcName, arch := range testcases {
		arch := arch
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			_, err := distfile.Name{Distribution: "pyoci"}.WithArchitecture(arch)
			require.Error(t, err)
			var archErr *distfile.InvalidArchitectureError
			assert.ErrorAs(t, err, &archErr)
		})
	}
}
