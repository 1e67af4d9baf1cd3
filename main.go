package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pydist/wheel-installer/install"
	"github.com/pydist/wheel-installer/script"
	"github.com/pydist/wheel-installer/wheel"
)

// Config is a business object holding the application's configuration.
type Config struct {
	// Dirs maps every installation scheme to its target directory.
	Dirs map[install.Scheme]string
	// Interpreter is the interpreter command embedded in installed scripts.
	Interpreter string
	// Platform selects the launcher flavor to generate.
	Platform script.Platform
	// LauncherDir holds the prebuilt Windows launcher stubs.
	LauncherDir string
}

func main() {
	root := &cobra.Command{
		Use:           "wheel-installer",
		Short:         "Install Python wheel archives into scheme directories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newInstallCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newInstallCmd() *cobra.Command {
	var (
		confPath       string
		destOverrides  map[string]string
		interpreter    string
		platform       string
		launcherDir    string
		overwrite      bool
		skipValidation bool
		installerName  string
		requested      bool
	)

	cmd := &cobra.Command{
		Use:   "install <wheel-file-or-url>",
		Short: "Install a wheel archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := decodeConfig(confPath)
			if err != nil {
				return fmt.Errorf("reading config %s: %w", confPath, err)
			}
			applyOverrides(config, destOverrides, interpreter, platform, launcherDir)
			if err := checkConfig(config); err != nil {
				return err
			}

			var stubs script.StubTable
			if config.LauncherDir != "" {
				stubs, err = script.LoadStubs(config.LauncherDir)
				if err != nil {
					return err
				}
			}

			pathname, cleanup, err := fetchWheel(args[0])
			if err != nil {
				return err
			}
			defer cleanup()

			src, err := wheel.OpenFile(pathname)
			if err != nil {
				return err
			}
			defer src.Close()

			if skipValidation {
				log.Warn("skipping archive validation")
			} else if err := src.Validate(true); err != nil {
				return err
			}

			dst := &install.SchemeDirDestination{
				Dirs:        config.Dirs,
				Interpreter: config.Interpreter,
				Platform:    config.Platform,
				Stubs:       stubs,
				Overwrite:   overwrite,
			}
			inst := &install.Installer{
				InstallerName: installerName,
				Requested:     requested,
			}

			log.Info("installing wheel",
				"distribution", src.Distribution(),
				"version", src.Version(),
				"platform", config.Platform)
			if err := inst.Install(src, dst); err != nil {
				return err
			}
			log.Info("installed", "distribution", src.Distribution(), "version", src.Version())
			return nil
		},
	}

	cmd.Flags().StringVar(&confPath, "config", "wheel-installer.yaml", "Path to config file")
	cmd.Flags().StringToStringVar(&destOverrides, "dest", nil, "Scheme directory overrides (e.g. purelib=/usr/lib/python3/site-packages)")
	cmd.Flags().StringVar(&interpreter, "interpreter", "", "Interpreter command for installed scripts")
	cmd.Flags().StringVar(&platform, "platform", "", "Launcher platform (posix, win-x86, win-x64, win-arm32, win-arm64)")
	cmd.Flags().StringVar(&launcherDir, "launcher-dir", "", "Directory holding prebuilt Windows launcher stubs")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing destination files")
	cmd.Flags().BoolVar(&skipValidation, "skip-validation", false, "Skip the RECORD consistency check before installing")
	cmd.Flags().StringVar(&installerName, "installer-name", "wheel-installer", "Name recorded in the INSTALLER metadata file")
	cmd.Flags().BoolVar(&requested, "requested", false, "Mark the distribution as explicitly requested")
	return cmd
}

// applyOverrides layers command-line flags over the configuration file.
func applyOverrides(config *Config, dirs map[string]string, interpreter, platform, launcherDir string) {
	if config.Dirs == nil {
		config.Dirs = make(map[install.Scheme]string)
	}
	for name, dir := range dirs {
		config.Dirs[install.Scheme(name)] = dir
	}
	if interpreter != "" {
		config.Interpreter = interpreter
	}
	if platform != "" {
		config.Platform = script.Platform(platform)
	}
	if launcherDir != "" {
		config.LauncherDir = launcherDir
	}
	if config.Platform == "" {
		config.Platform = hostPlatform()
	}
}

func checkConfig(config *Config) error {
	for _, s := range install.AllSchemes {
		if config.Dirs[s] == "" {
			return fmt.Errorf("no directory configured for scheme %q", s)
		}
	}
	if config.Interpreter == "" {
		return fmt.Errorf("no interpreter configured")
	}
	return nil
}

// hostPlatform picks the launcher platform matching the running host.
func hostPlatform() script.Platform {
	if runtime.GOOS != "windows" {
		return script.PlatformPosix
	}
	switch runtime.GOARCH {
	case "386":
		return script.PlatformWinX86
	case "arm":
		return script.PlatformWinArm32
	case "arm64":
		return script.PlatformWinArm64
	default:
		return script.PlatformWinX64
	}
}

// fetchWheel resolves a local path or an http(s) URL to a local wheel file.
// The returned cleanup removes any temporary download.
func fetchWheel(source string) (string, func(), error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		return source, func() {}, nil
	}

	resp, err := http.Get(source)
	if err != nil {
		return "", nil, fmt.Errorf("downloading %s: %w", source, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("downloading %s: unexpected status %s", source, resp.Status)
	}

	// The filename carries the distribution name and version, so the
	// download keeps the URL's basename.
	dir, err := os.MkdirTemp("", "wheel-installer-")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }

	pathname := filepath.Join(dir, filepath.Base(resp.Request.URL.Path))
	f, err := os.Create(pathname)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("downloading %s: %w", source, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return pathname, cleanup, nil
}

func decodeConfig(path string) (*Config, error) {
	// Internal DTOs for YAML deserialization
	type yamlDirs struct {
		Purelib string `yaml:"purelib"`
		Platlib string `yaml:"platlib"`
		Headers string `yaml:"headers"`
		Scripts string `yaml:"scripts"`
		Data    string `yaml:"data"`
	}
	type yamlConfig struct {
		Dirs        yamlDirs `yaml:"dirs"`
		Interpreter string   `yaml:"interpreter"`
		Platform    string   `yaml:"platform"`
		LauncherDir string   `yaml:"launcher_dir"`
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Configuration may come entirely from flags.
			return &Config{}, nil
		}
		return nil, err
	}

	var dto yamlConfig
	if err := yaml.Unmarshal(data, &dto); err != nil {
		return nil, err
	}

	// Map DTO to business object
	config := &Config{
		Dirs:        map[install.Scheme]string{},
		Interpreter: dto.Interpreter,
		Platform:    script.Platform(dto.Platform),
		LauncherDir: dto.LauncherDir,
	}
	for scheme, dir := range map[install.Scheme]string{
		install.SchemePurelib: dto.Dirs.Purelib,
		install.SchemePlatlib: dto.Dirs.Platlib,
		install.SchemeHeaders: dto.Dirs.Headers,
		install.SchemeScripts: dto.Dirs.Scripts,
		install.SchemeData:    dto.Dirs.Data,
	} {
		if dir != "" {
			config.Dirs[scheme] = dir
		}
	}
	return config, nil
}
