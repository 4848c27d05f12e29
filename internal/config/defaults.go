package config

const (
	defaultInboxDir     = "~/.local/share/apflow/inbox"
	defaultStagingDir   = "~/.local/share/apflow/staging"
	defaultProcessedDir = "~/.local/share/apflow/processed"
	defaultHeldDir      = "~/.local/share/apflow/held"
	defaultLogDir       = "~/.local/share/apflow/logs"

	defaultMaxAttempts      = 3
	defaultRetryBackoffMS   = 2000
	defaultPollIntervalMS   = 500
	defaultStaleWaitingMins = 10

	defaultVarianceThresholdCents = 2500
	defaultDedupeWindowDays       = 90
	defaultVendorPrefixLength     = 5
	defaultSuggestDaysBefore      = 7
	defaultSuggestDaysAfter       = 3

	defaultPlumbingSKU  = "PH-LUMP"
	defaultHVACSKU      = "HVAC-LUMP"
	defaultMiscSKU      = "MISC-LUMP"
	defaultMaxBillLines = 5

	defaultERPTimeout        = 30
	defaultExtractionRegion  = "us"
	defaultMinConfidence     = 0.5
	defaultExtractionTimeout = 60

	defaultNotifyTimeout    = 10
	defaultDailySummaryCron = "0 18 * * *"

	defaultAPIBind = "127.0.0.1:7641"

	defaultLogFormat = "auto"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			InboxDir:     defaultInboxDir,
			StagingDir:   defaultStagingDir,
			ProcessedDir: defaultProcessedDir,
			HeldDir:      defaultHeldDir,
			LogDir:       defaultLogDir,
		},
		Pipeline: Pipeline{
			SplitWorkers:     2,
			ParseWorkers:     3,
			MatchWorkers:     2,
			BillWorkers:      2,
			WriteWorkers:     1,
			NotifyWorkers:    5,
			MaxAttempts:      defaultMaxAttempts,
			RetryBackoffMS:   defaultRetryBackoffMS,
			PollIntervalMS:   defaultPollIntervalMS,
			StaleWaitingMins: defaultStaleWaitingMins,
		},
		Matching: Matching{
			VarianceThresholdCents: defaultVarianceThresholdCents,
			DedupeWindowDays:       defaultDedupeWindowDays,
			VendorPrefixLength:     defaultVendorPrefixLength,
			SuggestDaysBefore:      defaultSuggestDaysBefore,
			SuggestDaysAfter:       defaultSuggestDaysAfter,
		},
		Billing: Billing{
			PlumbingSKU:  defaultPlumbingSKU,
			HVACSKU:      defaultHVACSKU,
			MiscSKU:      defaultMiscSKU,
			MaxBillLines: defaultMaxBillLines,
		},
		ERP: ERP{
			RequestTimeout: defaultERPTimeout,
		},
		Extraction: Extraction{
			Location:      defaultExtractionRegion,
			MinConfidence: defaultMinConfidence,
			Timeout:       defaultExtractionTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			DailySummary:   defaultDailySummaryCron,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
