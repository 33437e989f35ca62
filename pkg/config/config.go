package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
	"kubegems.io/modelimage/pkg/errors"
)

const (
	DefaultConfigFile     = "config.properties"
	DefaultProvider       = "Dev"
	DefaultViyaInstallDir = "/opt/sas/viya"
	DefaultAstoreDir      = "/opt/sas/viya/config/data/modelsvr/astore/"
	DefaultClientID       = "sas.ec"

	SectionConfig = "Config"

	ProviderAWS   = "AWS"
	ProviderAzure = "Azure"
	ProviderGCP   = "GCP"
	ProviderDev   = "Dev"
)

type ModelRepo struct {
	Host         string
	Username     string
	Password     string
	Token        string
	ClientID     string
	ClientSecret string
}

type AWS struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

type Azure struct {
	Registry string
}

type GCP struct {
	KeyFile string
	Project string
}

type Config struct {
	Provider       string
	ModelRepo      ModelRepo
	ViyaInstallDir string
	AstoreDir      string
	TemplatesDir   string
	WorkDir        string
	Verbose        bool
	KubeContext    string
	// BaseRepo is the raw registry of providers without a login flow.
	BaseRepo string

	AWS   AWS
	Azure Azure
	GCP   GCP

	file *ini.File
}

// Env lists the environment overrides, applied after the properties file.
type Env struct {
	ConfigFile    string `env:"MODELIMAGE_CONFIG"`
	Provider      string `env:"MODELIMAGE_PROVIDER"`
	Verbose       bool   `env:"MODELIMAGE_VERBOSE"`
	ModelRepoHost string `env:"MODELIMAGE_MODEL_REPO_HOST"`
	ModelRepoUser string `env:"MODELIMAGE_MODEL_REPO_USERNAME"`
	ModelRepoPass string `env:"MODELIMAGE_MODEL_REPO_PASSWORD"`
	ModelRepoTok  string `env:"MODELIMAGE_MODEL_REPO_TOKEN"`
}

// Load reads the properties file at path. A non-empty provider overrides provider.type.
func Load(path string, provider string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, errors.NewConfigInvalidError(fmt.Sprintf("load .env: %v", err))
		}
	}
	overrides := Env{}
	if err := env.Parse(&overrides); err != nil {
		return nil, errors.NewConfigInvalidError(err.Error())
	}
	if path == "" {
		path = overrides.ConfigFile
	}
	if path == "" {
		path = DefaultConfigFile
	}
	file, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return nil, errors.NewConfigInvalidError(fmt.Sprintf("load %s: %v", path, err))
	}
	cfg := Parse(file)

	if overrides.Provider != "" {
		cfg.Provider = overrides.Provider
	}
	if provider != "" {
		cfg.Provider = provider
	}
	if overrides.Verbose {
		cfg.Verbose = true
	}
	if overrides.ModelRepoHost != "" {
		cfg.ModelRepo.Host = overrides.ModelRepoHost
	}
	if overrides.ModelRepoUser != "" {
		cfg.ModelRepo.Username = overrides.ModelRepoUser
	}
	if overrides.ModelRepoPass != "" {
		cfg.ModelRepo.Password = overrides.ModelRepoPass
	}
	if overrides.ModelRepoTok != "" {
		cfg.ModelRepo.Token = overrides.ModelRepoTok
	}
	// the provider may have changed, re-read its section
	cfg.readProviderSection()
	return cfg, nil
}

func Parse(file *ini.File) *Config {
	cfg := &Config{file: file}
	cfg.Provider = cfg.getDefault(SectionConfig, "provider.type", DefaultProvider)
	cfg.ViyaInstallDir = cfg.getDefault(SectionConfig, "viya.installation.dir", DefaultViyaInstallDir)
	cfg.AstoreDir = cfg.getDefault(SectionConfig, "astore.dir", DefaultAstoreDir)
	cfg.TemplatesDir = cfg.getDefault(SectionConfig, "templates.dir", ".")
	cfg.WorkDir = cfg.getDefault(SectionConfig, "work.dir", ".")
	cfg.Verbose, _ = strconv.ParseBool(cfg.Get(SectionConfig, "verbose"))
	cfg.ModelRepo = ModelRepo{
		Host:         strings.TrimRight(cfg.Get(SectionConfig, "model.repo.host"), "/"),
		Username:     cfg.Get(SectionConfig, "model.repo.username"),
		Password:     cfg.Get(SectionConfig, "model.repo.password"),
		Token:        cfg.Get(SectionConfig, "model.repo.token"),
		ClientID:     cfg.getDefault(SectionConfig, "model.repo.client.id", DefaultClientID),
		ClientSecret: cfg.Get(SectionConfig, "model.repo.client.secret"),
	}
	cfg.readProviderSection()
	return cfg
}

func (c *Config) readProviderSection() {
	c.ModelRepo.Host = strings.TrimRight(c.ModelRepo.Host, "/")
	c.KubeContext = c.Get(c.Provider, "kubernetes.context")
	c.BaseRepo = c.Get(c.Provider, "base.repo")
	c.AWS = AWS{
		AccessKeyID:     c.Get(ProviderAWS, "access.key.id"),
		SecretAccessKey: c.Get(ProviderAWS, "secret.access.key"),
		Region:          c.Get(ProviderAWS, "region"),
	}
	c.Azure = Azure{Registry: c.Get(ProviderAzure, "azure.container.registry")}
	c.GCP = GCP{
		KeyFile: c.Get(ProviderGCP, "service.account.keyfile"),
		Project: c.Get(ProviderGCP, "project.name"),
	}
}

// Get returns the trimmed value of key in section, or "" when either is missing.
func (c *Config) Get(section, key string) string {
	if c.file == nil {
		return ""
	}
	sec, err := c.file.GetSection(section)
	if err != nil || !sec.HasKey(key) {
		return ""
	}
	return strings.TrimSpace(sec.Key(key).String())
}

func (c *Config) getDefault(section, key, def string) string {
	if val := c.Get(section, key); val != "" {
		return val
	}
	return def
}

// RequireModelRepo reports an error when the model repository host is missing.
func (c *Config) RequireModelRepo() error {
	if c.ModelRepo.Host == "" {
		return errors.NewConfigInvalidError("model.repo.host is required in section [Config]")
	}
	return nil
}

func (c *Config) Print(w io.Writer, registry string) {
	fmt.Fprintln(w, "  provider.type:", c.Provider)
	if c.ModelRepo.Host != "" {
		fmt.Fprintln(w, "  model.repo.host:", c.ModelRepo.Host)
	}
	fmt.Fprintln(w, "  viya.installation.dir:", c.ViyaInstallDir)
	if c.KubeContext != "" {
		fmt.Fprintln(w, "  kubernetes.context:", c.KubeContext)
	}
	fmt.Fprintln(w, "  base.repo:", registry)
	if c.ModelRepo.Password != "" {
		fmt.Fprintln(w, "  model.repo.password:", "********")
	}
	fmt.Fprintln(w, "===================================")
}
