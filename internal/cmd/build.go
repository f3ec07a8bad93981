package cmd

import (
	"github.com/danielpatrickdp/intersection-controller/internal/arbiter"
	"github.com/danielpatrickdp/intersection-controller/internal/config"
	"github.com/danielpatrickdp/intersection-controller/internal/control"
	"github.com/danielpatrickdp/intersection-controller/internal/geom"
	"github.com/danielpatrickdp/intersection-controller/internal/logging"
	"github.com/danielpatrickdp/intersection-controller/internal/replay"
)

func newArbiter(g *geom.Map, c *control.Map, cfg *config.Config, logger *logging.Logger) (*arbiter.Arbiter, error) {
	return arbiter.New(g, c, cfg.ArbiterConfig(), logger)
}

// loadMap reads the turns and controls of a fixture file.
func loadMap(path string) (*replay.Fixture, *geom.Map, *control.Map, error) {
	f, err := replay.LoadFixture(path)
	if err != nil {
		return nil, nil, nil, err
	}
	g, err := f.Geometry()
	if err != nil {
		return nil, nil, nil, err
	}
	c, err := f.Controls()
	if err != nil {
		return nil, nil, nil, err
	}
	return f, g, c, nil
}

// storePath prefers an explicit --db flag over store.path.
func storePath(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.Store.Path
}
