package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// jsrPackageRe matches "@scope/name".
var jsrPackageRe = regexp.MustCompile(`^@[a-z0-9][a-z0-9-]*/[a-z0-9][a-z0-9-]*$`)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterValidation("jsrpackage", func(fl validator.FieldLevel) bool {
			return jsrPackageRe.MatchString(fl.Field().String())
		})
	})
	return validate
}

// Validate checks struct constraints plus cross-field rules the tags cannot
// express.
func (c *Config) Validate() error {
	if err := validatorInstance().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: invalid: %w", err)
	}

	seen := make(map[string]bool)
	for _, chk := range c.Preflight {
		if seen[chk.Name] {
			return fmt.Errorf("config: duplicate preflight check name %q", chk.Name)
		}
		seen[chk.Name] = true
	}

	if c.Publish.Enabled && c.Publish.Package == "" {
		return fmt.Errorf("config: publish.package is required when publish is enabled")
	}

	if c.Publish.WaitForCI && c.CI.Workflow == "" {
		return fmt.Errorf("config: publish.wait_for_ci requires ci.workflow")
	}
	if c.CI.Workflow != "" && !c.GitHub.Enabled {
		return fmt.Errorf("config: ci.workflow requires github.enabled")
	}
	return nil
}
