package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

type profile struct {
	BaseURL      string `yaml:"baseUrl"`
	AdminSecret  string `yaml:"adminSecret"`
	ServerConfig string `yaml:"serverConfig"`
}

type cliConfig struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]profile `yaml:"profiles"`
}

func initCmd(g *globals, ui *ui) *cobra.Command {
	var noPrompt bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or update a CLI profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadCLIConfig()
			if err != nil {
				return err
			}
			name := resolveProfileName(g.profileName, cfg)
			prof := cfg.Profiles[name]
			prof.BaseURL = firstNonEmpty(g.baseURL, prof.BaseURL)
			prof.ServerConfig = firstNonEmpty(g.configPath, prof.ServerConfig)
			prof.AdminSecret = firstNonEmpty(g.adminSecret, prof.AdminSecret)

			if !noPrompt {
				r := bufio.NewReader(os.Stdin)
				prof.BaseURL = prompt(r, "Ops API base URL", prof.BaseURL)
				prof.ServerConfig = prompt(r, "Server config path", prof.ServerConfig)
				if prof.AdminSecret == "" {
					secret, err := promptSecret("Admin secret (empty to skip)")
					if err != nil {
						return err
					}
					prof.AdminSecret = secret
				}
			}

			cfg.Profiles[name] = prof
			cfg.CurrentProfile = name
			if err := saveCLIConfig(cfg, path); err != nil {
				return err
			}
			fmt.Printf("%s Profile '%s' saved to %s\n", ui.ok("[OK]"), name, path)
			fmt.Printf("%s base url %s, admin secret %s\n", ui.dim("  "), prof.BaseURL, maskToken(prof.AdminSecret))
			return nil
		},
	}
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Take values from flags and env only")
	return cmd
}

func cliConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("CAPTUREQ_CLI_DIR")); v != "" {
		return filepath.Join(v, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./captureq.yaml"
	}
	return filepath.Join(home, ".captureq", "config.yaml")
}

func loadCLIConfig() (cliConfig, string, error) {
	path := cliConfigPath()
	var cfg cliConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cliConfig{Profiles: map[string]profile{}}, path, nil
		}
		return cfg, path, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, path, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]profile{}
	}
	return cfg, path, nil
}

func saveCLIConfig(cfg cliConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func resolveProfileName(flag string, cfg cliConfig) string {
	if strings.TrimSpace(flag) != "" {
		return strings.TrimSpace(flag)
	}
	if cfg.CurrentProfile != "" {
		return cfg.CurrentProfile
	}
	return "default"
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		// EOF without a newline still yields the typed value.
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		fmt.Println()
		return strings.TrimSpace(line), nil
	}
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func maskToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "<unset>"
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}
