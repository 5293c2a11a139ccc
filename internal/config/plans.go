package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PlanDefinition is one row of the plan catalog.
type PlanDefinition struct {
	Type                   string `mapstructure:"type"`
	IncludedMinutes        int64  `mapstructure:"includedMinutes"`
	IndustryOptimizedFlows bool   `mapstructure:"industryOptimizedFlows"`
	BrandedVoice           bool   `mapstructure:"brandedVoice"`
	PrioritySupport        bool   `mapstructure:"prioritySupport"`
}

type PlanCatalog struct {
	Plans []PlanDefinition `mapstructure:"plans"`
}

func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		Plans: []PlanDefinition{
			{Type: "NONE", IncludedMinutes: 0},
			{Type: "TIER_1", IncludedMinutes: 300},
			{Type: "TIER_2", IncludedMinutes: 800, IndustryOptimizedFlows: true},
			{Type: "TIER_3", IncludedMinutes: 2000, IndustryOptimizedFlows: true, BrandedVoice: true, PrioritySupport: true},
		},
	}
}

// PlanCatalogHolder serves the current plan catalog and swaps it on file change.
type PlanCatalogHolder struct {
	current atomic.Value // holds PlanCatalog
}

// NewStaticPlanCatalogHolder returns a holder that never reloads.
func NewStaticPlanCatalogHolder(catalog PlanCatalog) *PlanCatalogHolder {
	holder := &PlanCatalogHolder{}
	holder.current.Store(catalog)
	return holder
}

func NewPlanCatalogHolder(cfg Config, log *zap.Logger) (*PlanCatalogHolder, error) {
	log = log.Named("config.plans")
	v := viper.New()

	if path := strings.TrimSpace(cfg.Billing.PlanCatalogPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("plans")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/answerline/config")
		v.AddConfigPath("/etc/answerline")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ANSWERLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("plan catalog file not found, using defaults")
		return NewStaticPlanCatalogHolder(DefaultPlanCatalog()), nil
	}

	var catalog PlanCatalog
	if err := v.Unmarshal(&catalog); err != nil {
		return nil, err
	}
	if err := ValidatePlanCatalog(catalog); err != nil {
		return nil, err
	}

	holder := NewStaticPlanCatalogHolder(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanCatalog
		if err := v.Unmarshal(&updated); err != nil {
			log.Warn("plan catalog reload failed", zap.Error(err))
			return
		}
		if err := ValidatePlanCatalog(updated); err != nil {
			log.Warn("invalid plan catalog ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("plan catalog reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PlanCatalogHolder) Get() PlanCatalog {
	return h.current.Load().(PlanCatalog)
}

func ValidatePlanCatalog(catalog PlanCatalog) error {
	if len(catalog.Plans) == 0 {
		return errors.New("plans cannot be empty")
	}
	seen := make(map[string]struct{}, len(catalog.Plans))
	for _, p := range catalog.Plans {
		key := strings.ToUpper(strings.TrimSpace(p.Type))
		if key == "" {
			return errors.New("plan type cannot be empty")
		}
		if p.IncludedMinutes < 0 {
			return fmt.Errorf("plan %s: included minutes must be non-negative", key)
		}
		if _, ok := seen[key]; ok {
			return fmt.Errorf("plan %s defined twice", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}
