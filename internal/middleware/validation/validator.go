package validation

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const BodyKey = "validated_body"

type Config struct {
	// DataRoot is the directory every store path is resolved under. When
	// empty, bodies naming a path are refused.
	DataRoot      string
	MaxPathLength int
	MaxRetries    int
	// PathFields lists the body fields that name a store on disk.
	PathFields []string
	Logger     *zap.Logger
}

// Middleware checks JSON bodies of POST requests: well-formed object, store
// paths that resolve inside the data root, and a max_retries value inside the
// allowed range. Paths in the forwarded body are replaced by their resolved
// form and the decoded body is left in c.Locals(BodyKey).
func Middleware(cfg Config) fiber.Handler {
	policy := Policy{
		DataRoot:      cfg.DataRoot,
		MaxPathLength: cfg.MaxPathLength,
		MaxRetries:    cfg.MaxRetries,
	}.withDefaults()
	if len(cfg.PathFields) == 0 {
		cfg.PathFields = []string{"requirement_store", "testcase_store", "master_store", "report_path"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !strings.Contains(contentType, fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		req := map[string]any{}
		if body := c.Body(); len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}
		}

		rewrite := false
		for _, field := range cfg.PathFields {
			raw, present := req[field]
			if !present || raw == nil {
				continue
			}
			path, ok := raw.(string)
			if !ok {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": field + " must be a string",
				})
			}
			resolved, msg := policy.resolve(path)
			if msg != "" {
				cfg.Logger.Warn("Rejected store path",
					zap.String("ip", c.IP()),
					zap.String("field", field),
					zap.String("reason", msg),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": field + " " + msg,
				})
			}
			req[field] = resolved
			rewrite = true
		}

		if raw, present := req["max_retries"]; present && raw != nil {
			n, ok := raw.(float64)
			if !ok || n != float64(int(n)) || policy.CheckRetries(int(n)) != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "max_retries must be an integer between 0 and " + strconv.Itoa(policy.MaxRetries),
				})
			}
		}

		if rewrite {
			body, err := json.Marshal(req)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid request body",
				})
			}
			c.Request().SetBody(body)
		}

		c.Locals(BodyKey, req)
		return c.Next()
	}
}

func checkPath(path string, maxLen int) string {
	switch {
	case strings.ContainsRune(path, 0):
		return "contains a NUL byte"
	case len(path) > maxLen:
		return "exceeds maximum length"
	case strings.TrimSpace(path) == "":
		return "must not be blank"
	}
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return "must not traverse parent directories"
		}
	}
	return ""
}
