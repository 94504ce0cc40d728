package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"reverie/internal/api"
	"reverie/internal/config"
)

// clientHeadroom is added to the finish timeout so the server reports a
// timeout before the client gives up.
const clientHeadroom = 30 * time.Second

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) client() (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return api.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken, cfg.FinishTimeout()+clientHeadroom)
}

// withClient runs fn against the daemon API and turns connection failures
// into a hint about starting the daemon.
func (c *commandContext) withClient(fn func(*api.Client) error) error {
	client, err := c.client()
	if err != nil {
		return wrapDialError(err, c.configValue())
	}
	if err := fn(client); err != nil {
		return wrapDialError(err, c.configValue())
	}
	return nil
}

func wrapDialError(err error, cfg *config.Config) error {
	if !api.IsAPIUnavailable(err) {
		return err
	}
	bind := ""
	if cfg != nil {
		bind = cfg.Paths.APIBind
	}
	if errors.Is(err, api.ErrAPIUnavailable) && bind == "" {
		return fmt.Errorf("connect to daemon: no api_bind configured")
	}
	return fmt.Errorf("connect to daemon: nothing listening on %s; start it with `reverie daemon`", bind)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
