package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"lingest/internal/api"
	"lingest/internal/config"
	"lingest/internal/issues"
	"lingest/internal/queue"
	"lingest/internal/review"
	"lingest/internal/services/speech"
)

// itemAPI is the operation surface shared by the daemon HTTP client and the
// direct-store fallback. *api.ItemService satisfies it as-is.
type itemAPI interface {
	List(ctx context.Context, statusFilter string) ([]api.Item, error)
	Clear(ctx context.Context, statusFilter string) (int64, error)
	Get(ctx context.Context, id int64) (api.Item, error)
	Add(ctx context.Context, req api.AddItemRequest) (api.Item, error)
	Sentences(ctx context.Context, id int64) ([]api.Sentence, error)
	Chunks(ctx context.Context, id int64) ([]api.Chunk, error)
	Correct(ctx context.Context, id int64, seq int, req api.SentencePatchRequest) error
	SetReviewed(ctx context.Context, id int64, seq int, reviewed bool) error
	DeleteSentence(ctx context.Context, id int64, seq int) error
	FinishReview(ctx context.Context, id int64) error
	Reopen(ctx context.Context, id int64) error
	Export(ctx context.Context, id int64) ([]api.Sentence, error)
	Repair(ctx context.Context, id int64, req api.RepairRequest) (api.RepairResponse, error)
	RetryFailed(ctx context.Context, id int64) error
}

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
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

func (c *commandContext) apiAddress() string {
	if c.apiFlag != nil {
		if addr := strings.TrimSpace(*c.apiFlag); addr != "" {
			return addr
		}
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return strings.TrimSpace(cfg.Paths.APIBind)
	}
	return ""
}

// dialClient probes the daemon API and returns a client when it answers.
func (c *commandContext) dialClient(ctx context.Context) (*daemonClient, error) {
	addr := c.apiAddress()
	if addr == "" {
		return nil, errDaemonUnreachable
	}
	var token string
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		token = cfg.Paths.APIToken
	}
	client := newDaemonClient(addr, token)
	if _, err := client.Status(ctx); err != nil {
		if isUnreachable(err) {
			return nil, errDaemonUnreachable
		}
		return nil, err
	}
	return client, nil
}

var errDaemonUnreachable = errors.New("daemon unreachable")

func isUnreachable(err error) bool {
	if errors.Is(err, errDaemonUnreachable) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// withItemAPI runs fn against the daemon when it is up, otherwise directly
// against the queue store. The direct path shares the daemon's SQLite
// database; WAL mode keeps cross-process access safe.
func (c *commandContext) withItemAPI(ctx context.Context, fn func(itemAPI) error) error {
	client, err := c.dialClient(ctx)
	if err == nil {
		return fn(client)
	}
	if !isUnreachable(err) {
		return err
	}

	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.NewStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}
	defer store.Close()

	client2 := speech.NewClient(cfg.Speech)
	reviews := review.NewService(store, nil)
	tracker := issues.NewTracker(store, client2, cfg.Languages.Source, cfg.Languages.Target, nil)
	return fn(api.NewItemService(store, reviews, tracker))
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
