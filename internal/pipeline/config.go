package pipeline

import (
	"errors"
	"flag"
	"fmt"

	"github.com/linnemanlabs/capetl/internal/extract"
)

// Config for the pipeline service.
type Config struct {
	Bucket       string
	OnFieldError string

	policy extract.Policy
}

func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Bucket, "bucket", "", "bucket (or fsblob container) holding raw and staged files")
	fs.StringVar(&c.OnFieldError, "on-field-error", "abort",
		"alert extraction failure policy: abort (keep rows before the failing alert) or skip (drop only the failing alert)")
}

func (c *Config) Validate() error {
	var errs []error
	if c.Bucket == "" {
		errs = append(errs, fmt.Errorf("bucket is required"))
	}
	p, err := extract.ParsePolicy(c.OnFieldError)
	if err != nil {
		errs = append(errs, err)
	}
	c.policy = p
	return errors.Join(errs...)
}

// Policy is the parsed OnFieldError value. Valid after Validate.
func (c *Config) Policy() extract.Policy { return c.policy }
