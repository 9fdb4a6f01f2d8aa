package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig holds operator-tunable billing behavior. It is loaded from
// a mounted billing.yml and hot-reloaded on change, so invoice defaults can
// move without a redeploy.
type BillingConfig struct {
	InvoiceDueDays      int           `mapstructure:"invoiceDueDays"`
	SchedulerBatchSize  int           `mapstructure:"schedulerBatchSize"`
	SchedulerInterval   time.Duration `mapstructure:"schedulerInterval"`
	CustomerLockTTL     time.Duration `mapstructure:"customerLockTTL"`
	UnpricedDescription string        `mapstructure:"unpricedDescription"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		InvoiceDueDays:      14,
		SchedulerBatchSize:  50,
		SchedulerInterval:   time.Minute,
		CustomerLockTTL:     5 * time.Minute,
		UnpricedDescription: "UNPRICED",
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/warebill/config")
	v.AddConfigPath("/etc/warebill")
	v.AddConfigPath(".")

	v.SetEnvPrefix("WAREBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.invoiceDueDays", defaults.InvoiceDueDays)
	v.SetDefault("billing.schedulerBatchSize", defaults.SchedulerBatchSize)
	v.SetDefault("billing.schedulerInterval", defaults.SchedulerInterval)
	v.SetDefault("billing.customerLockTTL", defaults.CustomerLockTTL)
	v.SetDefault("billing.unpricedDescription", defaults.UnpricedDescription)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBillingConfigHolder wraps a fixed config, bypassing file
// watching. Intended for tests.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.InvoiceDueDays <= 0 {
		return errors.New("billing.invoiceDueDays must be positive")
	}
	if cfg.SchedulerBatchSize <= 0 {
		return errors.New("billing.schedulerBatchSize must be positive")
	}
	if cfg.SchedulerInterval <= 0 {
		return errors.New("billing.schedulerInterval must be positive")
	}
	if cfg.CustomerLockTTL <= 0 {
		return errors.New("billing.customerLockTTL must be positive")
	}
	return nil
}
