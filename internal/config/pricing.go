package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	PricingModePer1000Chars = "per_1000_chars"
	PricingModeFlat         = "flat"
)

// ContentTypePricing is the price and turnaround policy of one content type.
// Price is a PLN major-unit decimal string.
type ContentTypePricing struct {
	Mode         string `mapstructure:"mode"`
	Price        string `mapstructure:"price"`
	MinLength    int    `mapstructure:"minLength"`
	BaseHours    int    `mapstructure:"baseHours"`
	HoursPer1000 int    `mapstructure:"hoursPer1000"`
}

// PricingConfig maps content types and promo codes to prices and discounts.
// Map keys are lower-cased by viper.
type PricingConfig struct {
	ContentTypes map[string]ContentTypePricing `mapstructure:"contentTypes"`
	Discounts    map[string]string             `mapstructure:"discounts"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		ContentTypes: map[string]ContentTypePricing{
			"article":             {Mode: PricingModePer1000Chars, Price: "19.00", MinLength: 500, BaseHours: 24, HoursPer1000: 2},
			"blog_post":           {Mode: PricingModePer1000Chars, Price: "15.00", MinLength: 500, BaseHours: 12, HoursPer1000: 2},
			"product_description": {Mode: PricingModePer1000Chars, Price: "25.00", MinLength: 200, BaseHours: 6, HoursPer1000: 1},
			"seo_audit":           {Mode: PricingModeFlat, Price: "249.00", BaseHours: 72},
			"social_pack":         {Mode: PricingModeFlat, Price: "99.00", BaseHours: 24},
		},
		Discounts: map[string]string{},
	}
}

type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

// NewStaticPricingConfigHolder wraps a fixed configuration, used by tests and
// when no pricing file is deployed.
func NewStaticPricingConfigHolder(cfg PricingConfig) (*PricingConfigHolder, error) {
	if err := ValidatePricingConfig(cfg); err != nil {
		return nil, err
	}
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func NewPricingConfigHolder(appCfg Config) (*PricingConfigHolder, error) {
	v := viper.New()

	if path := strings.TrimSpace(appCfg.PricingConfigPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pricing")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/copydesk/config")
		v.AddConfigPath("/etc/copydesk")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("COPYDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		return NewStaticPricingConfigHolder(DefaultPricingConfig())
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	if err := ValidatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := ValidatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func ValidatePricingConfig(cfg PricingConfig) error {
	if len(cfg.ContentTypes) == 0 {
		return errors.New("pricing.contentTypes cannot be empty")
	}
	for name, ct := range cfg.ContentTypes {
		switch ct.Mode {
		case PricingModePer1000Chars, PricingModeFlat:
		default:
			return fmt.Errorf("pricing.contentTypes.%s: unknown mode %q", name, ct.Mode)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(ct.Price))
		if err != nil || !price.IsPositive() {
			return fmt.Errorf("pricing.contentTypes.%s: price must be a positive decimal", name)
		}
		if ct.MinLength < 0 || ct.BaseHours < 0 || ct.HoursPer1000 < 0 {
			return fmt.Errorf("pricing.contentTypes.%s: negative policy value", name)
		}
	}
	for code, raw := range cfg.Discounts {
		percent, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("pricing.discounts.%s: percent must be within 0-100", code)
		}
	}
	return nil
}
