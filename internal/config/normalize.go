package config

import "strings"

// normalize expands path fields and backfills zero values with defaults so a
// partially specified config file still yields a usable configuration.
func (c *Config) normalize() error {
	paths := []*string{
		&c.Paths.InboxDir,
		&c.Paths.StagingDir,
		&c.Paths.ProcessedDir,
		&c.Paths.HeldDir,
		&c.Paths.LogDir,
	}
	for _, p := range paths {
		if strings.TrimSpace(*p) == "" {
			continue
		}
		expanded, err := expandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}

	def := Default()
	if c.Pipeline.MaxAttempts <= 0 {
		c.Pipeline.MaxAttempts = def.Pipeline.MaxAttempts
	}
	if c.Pipeline.RetryBackoffMS <= 0 {
		c.Pipeline.RetryBackoffMS = def.Pipeline.RetryBackoffMS
	}
	if c.Pipeline.PollIntervalMS <= 0 {
		c.Pipeline.PollIntervalMS = def.Pipeline.PollIntervalMS
	}
	if c.Pipeline.StaleWaitingMins <= 0 {
		c.Pipeline.StaleWaitingMins = def.Pipeline.StaleWaitingMins
	}
	for _, w := range []*int{
		&c.Pipeline.SplitWorkers,
		&c.Pipeline.ParseWorkers,
		&c.Pipeline.MatchWorkers,
		&c.Pipeline.BillWorkers,
		&c.Pipeline.WriteWorkers,
		&c.Pipeline.NotifyWorkers,
	} {
		if *w <= 0 {
			*w = 1
		}
	}

	if c.Matching.VarianceThresholdCents <= 0 {
		c.Matching.VarianceThresholdCents = def.Matching.VarianceThresholdCents
	}
	if c.Matching.DedupeWindowDays <= 0 {
		c.Matching.DedupeWindowDays = def.Matching.DedupeWindowDays
	}
	if c.Matching.VendorPrefixLength <= 0 {
		c.Matching.VendorPrefixLength = def.Matching.VendorPrefixLength
	}
	if c.Matching.SuggestDaysBefore <= 0 {
		c.Matching.SuggestDaysBefore = def.Matching.SuggestDaysBefore
	}
	if c.Matching.SuggestDaysAfter <= 0 {
		c.Matching.SuggestDaysAfter = def.Matching.SuggestDaysAfter
	}

	if c.Billing.MaxBillLines <= 0 {
		c.Billing.MaxBillLines = def.Billing.MaxBillLines
	}
	if strings.TrimSpace(c.Billing.PlumbingSKU) == "" {
		c.Billing.PlumbingSKU = def.Billing.PlumbingSKU
	}
	if strings.TrimSpace(c.Billing.HVACSKU) == "" {
		c.Billing.HVACSKU = def.Billing.HVACSKU
	}
	if strings.TrimSpace(c.Billing.MiscSKU) == "" {
		c.Billing.MiscSKU = def.Billing.MiscSKU
	}

	if c.ERP.RequestTimeout <= 0 {
		c.ERP.RequestTimeout = def.ERP.RequestTimeout
	}
	if strings.TrimSpace(c.Extraction.Location) == "" {
		c.Extraction.Location = def.Extraction.Location
	}
	if c.Extraction.MinConfidence <= 0 {
		c.Extraction.MinConfidence = def.Extraction.MinConfidence
	}
	if c.Extraction.Timeout <= 0 {
		c.Extraction.Timeout = def.Extraction.Timeout
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = def.Notifications.RequestTimeout
	}
	if strings.TrimSpace(c.Notifications.DailySummary) == "" {
		c.Notifications.DailySummary = def.Notifications.DailySummary
	}
	if strings.TrimSpace(c.API.Bind) == "" {
		c.API.Bind = def.API.Bind
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = def.Logging.Format
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = def.Logging.Level
	}
	return nil
}
