package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cleared-dev/bcsync/internal/auth"
	"github.com/cleared-dev/bcsync/internal/config"
	"github.com/cleared-dev/bcsync/internal/dimension"
	"github.com/cleared-dev/bcsync/internal/dynamics"
	"github.com/cleared-dev/bcsync/internal/logging"
	"github.com/cleared-dev/bcsync/internal/mapper"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
	"github.com/cleared-dev/bcsync/internal/state"
)

// project is a loaded bcsync directory. Relative paths in the config are
// resolved against dir.
type project struct {
	dir     string
	cfgPath string
	cfg     *config.Config
}

func loadProject(dir string) (*project, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if err := config.LoadEnv(absDir); err != nil {
		return nil, err
	}
	cfgPath := filepath.Join(absDir, config.FileName)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return &project{dir: absDir, cfgPath: cfgPath, cfg: cfg}, nil
}

func (p *project) path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(p.dir, rel)
}

func (p *project) validate() error {
	errs := p.cfg.Validate()
	if len(errs) == 0 {
		return nil
	}
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = e.Error()
	}
	return fmt.Errorf("invalid %s:\n  %s", config.FileName, strings.Join(lines, "\n  "))
}

func (p *project) logger(w io.Writer) (*logrus.Logger, error) {
	return logging.New(p.cfg.Logging.Level, p.cfg.Logging.Format, w)
}

func (p *project) client(ctx context.Context, log logrus.FieldLogger) *dynamics.HTTPClient {
	d := p.cfg.Dynamics
	ac := auth.Config{
		TenantID:     d.TenantID,
		ClientID:     d.ClientID,
		ClientSecret: d.ClientSecret,
		RedirectURI:  d.RedirectURI,
		RefreshToken: d.RefreshToken,
		TokenURL:     d.TokenURL,
	}
	baseURL := d.BaseURL
	if baseURL == "" {
		baseURL = dynamics.DefaultBaseURL(d.TenantID, d.Environment)
	}
	return dynamics.NewHTTPClient(baseURL, ac.Client(ctx, p.saveRefreshToken, log), log)
}

// saveRefreshToken writes a rotated token into the config file as it is on
// disk, so values taken from the environment are not persisted.
func (p *project) saveRefreshToken(token string) error {
	onDisk, err := config.Load(p.cfgPath)
	if err != nil {
		return err
	}
	onDisk.Dynamics.RefreshToken = token
	return config.Save(p.cfgPath, onDisk)
}

func (p *project) dimensionMappings(c model.Company) []dimension.FieldMapping {
	return p.cfg.CompanyConfig(c.ID, c.Name).Dimensions
}

func (p *project) fieldMappings(c model.Company, stream string) []mapper.FieldMap {
	var out []mapper.FieldMap
	for _, o := range p.cfg.CompanyConfig(c.ID, c.Name).Fields[stream] {
		out = append(out, mapper.F(o.Source, o.Destination))
	}
	return out
}

func (p *project) mapperOptions() mapper.Options {
	return mapper.Options{
		Dimensions:     p.dimensionMappings,
		Fields:         p.fieldMappings,
		AttachmentsDir: p.path(p.cfg.Sync.AttachmentsDir),
	}
}

// loadReference loads every company's reference data and checks the
// configured dimension mappings against it.
func (p *project) loadReference(ctx context.Context, client dynamics.Client, log logrus.FieldLogger) (*refdata.Store, error) {
	ref, err := refdata.Load(ctx, client, log)
	if err != nil {
		return nil, err
	}
	if err := dimension.Validate(ref.Companies(), p.dimensionMappings); err != nil {
		return nil, err
	}
	return ref, nil
}

func (p *project) openState(ctx context.Context) (state.Store, error) {
	if addr := p.cfg.Sync.RedisAddr; addr != "" {
		return state.DialRedis(ctx, addr)
	}
	return state.OpenFile(p.path(p.cfg.Sync.StateFile))
}
