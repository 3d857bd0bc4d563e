package main

import (
	"fmt"
	"strings"
	"time"

	"context"

	"dagger/strata/internal/dagger"
)

const (
	zigDir = "zig-linux-x86_64-0.13.0"
	zigURL = "https://ziglang.org/download/0.13.0/" + zigDir + ".tar.xz"
)

// Build and return directory of go binaries
func (s *Strata) Build(
	ctx context.Context,

	// Linker flags for go build
	// +optional
	// +default="-s -w"
	ldflags string,
) *dagger.Directory {
	// define build matrix
	gooses := []string{"linux", "darwin"}
	goarches := []string{"amd64", "arm64"}

	// create empty directory to put build artifacts
	outputs := dag.Directory()

	// cgo cross compilation goes through zig cc
	golang := s.goContainer().
		WithExec([]string{"apt-get", "install", "-y", "xz-utils", "curl"}).
		WithExec([]string{"sh", "-c", "curl -sSL " + zigURL + " | tar -xJ -C /opt"}).
		WithEnvVariable("PATH", "/opt/"+zigDir+":$PATH", dagger.ContainerWithEnvVariableOpts{Expand: true})

	for _, goos := range gooses {
		for _, goarch := range goarches {
			// create directory for each OS and architecture
			path := fmt.Sprintf("%s/%s/", goos, goarch)

			// build artifact
			build := golang.
				WithEnvVariable("GOOS", goos).
				WithEnvVariable("GOARCH", goarch).
				WithEnvVariable("CC", "zig cc -target "+zigTarget(goos, goarch)).
				WithExec([]string{"go", "build", "-ldflags", ldflags, "-o", path, "./cli/strata"})

			// add build to outputs
			outputs = outputs.WithDirectory(path, build.Directory(path))
		}
	}

	// return build directory
	return outputs
}

// BuildRelease compiles versioned release binaries with embedded version info
func (s *Strata) BuildRelease(
	ctx context.Context,

	// Version string of build
	version string,

	// Git commit SHA of build
	commit string,
) *dagger.Directory {
	buildtime := time.Now()

	ldflags := []string{
		"-s",
		"-w",
		fmt.Sprintf("-X 'github.com/papercomputeco/strata/pkg/utils.Version=%s'", version),
		fmt.Sprintf("-X 'github.com/papercomputeco/strata/pkg/utils.Sha=%s'", commit),
		fmt.Sprintf("-X 'github.com/papercomputeco/strata/pkg/utils.Buildtime=%s'", buildtime),
	}

	return s.Build(ctx, strings.Join(ldflags, " "))
}

// zigTarget maps a Go platform to a zig cc target triple.
func zigTarget(goos, goarch string) string {
	arch := map[string]string{"amd64": "x86_64", "arm64": "aarch64"}[goarch]
	if goos == "darwin" {
		return arch + "-macos"
	}
	return arch + "-linux-gnu"
}
