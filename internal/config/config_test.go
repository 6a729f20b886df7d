package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  port: "8080"
  metrics_port: "9090"

classifier:
  provider: "rule_based"
  timeout: "10s"

safety:
  max_retries_per_workflow: 3
  max_retries_per_vendor_per_hour: 50

rules:
  timeout:
    severity: "high"
    retry_policy: "aggressive"
    retryable: true

retry_policies:
  aggressive:
    retryable: true
    max_retries: 5
    initial_delay: "1s"
    max_delay: "30s"
    multiplier: 2.0
    jitter: 0.2

vendors:
  acme-pay:
    breaker:
      threshold: 5
      cooldown: "60s"
      probe_cap: 2
    rate_limit:
      per_minute: 120

logging:
  level: "info"
  format: "json"
`
				err := os.WriteFile(configFile, []byte(validConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())

				Expect(cfg.Server.Port).To(Equal("8080"))
				Expect(cfg.Server.MetricsPort).To(Equal("9090"))

				Expect(cfg.Classifier.Provider).To(Equal("rule_based"))
				Expect(cfg.Classifier.Timeout).To(Equal(10 * time.Second))

				Expect(cfg.Safety.MaxRetriesPerWorkflow).To(Equal(3))
				Expect(cfg.Safety.MaxRetriesPerVendorPerHour).To(Equal(50))

				Expect(cfg.Rules).To(HaveKey("timeout"))
				Expect(cfg.Rules["timeout"].Severity).To(Equal("high"))

				Expect(cfg.RetryPolicies).To(HaveKey("aggressive"))
				Expect(cfg.RetryPolicies["aggressive"].MaxRetries).To(Equal(5))
				Expect(cfg.RetryPolicies["aggressive"].InitialDelay).To(Equal(1 * time.Second))

				Expect(cfg.Vendors).To(HaveKey("acme-pay"))
				Expect(cfg.Vendors["acme-pay"].Breaker.Threshold).To(Equal(5))
				Expect(cfg.Vendors["acme-pay"].Breaker.Cooldown).To(Equal(60 * time.Second))
				Expect(cfg.Vendors["acme-pay"].RateLimit.PerMinute).To(Equal(120))

				Expect(cfg.Logging.Level).To(Equal("info"))
				Expect(cfg.Logging.Format).To(Equal("json"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
classifier:
  provider: "mock"
`
				err := os.WriteFile(configFile, []byte(minimalConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load with defaults for missing values", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.Port).To(Equal("8080"))
				Expect(cfg.Server.MetricsPort).To(Equal("9090"))
				Expect(cfg.Classifier.Timeout).To(Equal(10 * time.Second))
				Expect(cfg.Safety.MaxRetriesPerWorkflow).To(Equal(3))
				Expect(cfg.RetryPolicies).To(HaveKey("default"))

				Expect(cfg.Database.MaxOpenConns).To(Equal(10))
				Expect(cfg.Database.ConnMaxLifetime).To(Equal(30 * time.Minute))
				Expect(cfg.Redis.Addr).To(Equal("localhost:6379"))
				Expect(cfg.Scheduler.PollInterval).To(Equal(5 * time.Second))
				Expect(cfg.Scheduler.BatchSize).To(Equal(50))
				Expect(cfg.Scheduler.Concurrency).To(Equal(8))
				Expect(cfg.Scheduler.WebhookTimeout).To(Equal(30 * time.Second))
				Expect(cfg.Safety.TenantRateLimitPerMinute).To(Equal(1000))
				Expect(cfg.Server.AllowedOrigins).To(Equal([]string{"*"}))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := `
server:
  port: "8080"
  invalid_yaml: [
classifier:
  provider: "mock"
`
				err := os.WriteFile(configFile, []byte(invalidConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when classifier provider is unsupported", func() {
			BeforeEach(func() {
				badConfig := `
classifier:
  provider: "unsupported"
`
				err := os.WriteFile(configFile, []byte(badConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return a validation error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("unsupported classifier provider"))
			})
		})

		Context("when llm provider is missing a model", func() {
			BeforeEach(func() {
				badConfig := `
classifier:
  provider: "llm"
`
				err := os.WriteFile(configFile, []byte(badConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return a validation error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("classifier.model is required"))
			})
		})
	})

	Describe("RuleFor", func() {
		It("should fall back to the documented default for unknown codes", func() {
			cfg := &Config{}
			applyDefaults(cfg)

			rule := cfg.RuleFor("never-configured")
			Expect(rule).To(Equal(DefaultRule))
		})
	})

	Describe("PolicyFor", func() {
		It("should fall back to the default policy for unknown names", func() {
			cfg := &Config{}
			applyDefaults(cfg)

			policy := cfg.PolicyFor("never-configured")
			Expect(policy).To(Equal(DefaultRetryPolicy))
		})
	})
})
