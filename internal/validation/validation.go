package validation

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"whatslog/internal/constants"
	"whatslog/internal/errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// DateLayout is the day format accepted by the read-side queries.
const DateLayout = "2006-01-02"

var (
	instanceNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	recipientPattern    = regexp.MustCompile(`^\+?[0-9]{5,20}(@s\.whatsapp\.net|@g\.us)?$`)
)

// SendMessageRequest is the body of an outgoing text message request.
type SendMessageRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// CreateInstanceRequest is the body of an instance creation request.
type CreateInstanceRequest struct {
	InstanceName string `json:"instanceName"`
}

// ValidateInstanceName checks length and the allowed character set.
func ValidateInstanceName(name string) error {
	err := validation.Validate(name,
		validation.Required.Error("instance name is required"),
		validation.RuneLength(constants.MinInstanceNameLength, constants.MaxInstanceNameLength).
			Error(fmt.Sprintf("instance name must be %d-%d characters", constants.MinInstanceNameLength, constants.MaxInstanceNameLength)),
		validation.Match(instanceNamePattern).Error("instance name must contain only letters, numbers, underscores, and dashes"),
	)
	if err != nil {
		return errors.NewValidationError("instanceName", name, err.Error())
	}
	return nil
}

func ValidateCreateInstance(ctx context.Context, req CreateInstanceRequest) error {
	return ValidateInstanceName(strings.TrimSpace(req.InstanceName))
}

// ValidateSendMessage checks the recipient and the text of an outgoing message.
func ValidateSendMessage(ctx context.Context, req SendMessageRequest) error {
	err := validation.ValidateStructWithContext(ctx, &req,
		validation.Field(&req.Number,
			validation.Required,
			validation.Match(recipientPattern).Error("must be a phone number or WhatsApp JID"),
		),
		validation.Field(&req.Text,
			validation.Required,
			validation.RuneLength(1, constants.MaxMessageTextLength),
		),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeValidationFailed, "invalid send request").
			WithUserMessage(err.Error())
	}
	return nil
}

// ValidateMessageID validates a gateway message id used for deduplication.
func ValidateMessageID(messageID string) error {
	err := validation.Validate(messageID,
		validation.Required.Error("message ID cannot be empty"),
		validation.Length(1, constants.MaxExternalIDLength).Error(
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxExternalIDLength)),
		validation.By(noControlChars),
	)
	if err != nil {
		return errors.New(errors.ErrCodeInvalidInput, err.Error())
	}
	return nil
}

// ParseDay parses a YYYY-MM-DD query value as a UTC day. An empty value means
// today.
func ParseDay(value string, now time.Time) (time.Time, error) {
	if value == "" {
		y, m, d := now.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	if err := validation.Validate(value, validation.Date(DateLayout).Error("date must be YYYY-MM-DD")); err != nil {
		return time.Time{}, errors.NewValidationError("date", value, err.Error())
	}
	day, _ := time.Parse(DateLayout, value)
	return day, nil
}

// ValidateContact validates the contact (sender number) query value.
func ValidateContact(contact string) error {
	err := validation.Validate(contact,
		validation.Required.Error("contact is required"),
		validation.Length(1, constants.MaxExternalIDLength),
		validation.By(noControlChars),
	)
	if err != nil {
		return errors.NewValidationError("contact", contact, err.Error())
	}
	return nil
}

// ValidatePublicURL checks the externally reachable URL the gateway calls back.
func ValidatePublicURL(value string) error {
	if err := validation.Validate(value, validation.Required, is.RequestURL); err != nil {
		return errors.NewValidationError("webhook.public_url", value, err.Error())
	}
	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	err := validation.Validate(timeoutSec,
		validation.Required.Error(fmt.Sprintf("%s must be at least 1 second", fieldName)),
		validation.Min(1).Error(fmt.Sprintf("%s must be at least 1 second", fieldName)),
		validation.Max(3600).Error(fmt.Sprintf("%s too large (max 3600 seconds)", fieldName)),
	)
	if err != nil {
		return errors.New(errors.ErrCodeInvalidInput, err.Error())
	}
	return nil
}

// ValidateConnectionPool validates database connection pool settings
func ValidateConnectionPool(maxOpen, maxIdle int) error {
	if err := validation.Validate(maxOpen, validation.Required, validation.Min(1), validation.Max(1000)); err != nil {
		return errors.New(errors.ErrCodeInvalidInput, "max open connections: "+err.Error())
	}
	if err := validation.Validate(maxIdle, validation.Min(0), validation.Max(maxOpen)); err != nil {
		return errors.New(errors.ErrCodeInvalidInput, "max idle connections: "+err.Error())
	}
	return nil
}

// ValidateRetentionDays validates data retention period. Zero keeps messages
// forever.
func ValidateRetentionDays(days int) error {
	err := validation.Validate(days,
		validation.Min(0).Error("retention days cannot be negative"),
		validation.Max(3650).Error("retention days too large (max 3650)"),
	)
	if err != nil {
		return errors.New(errors.ErrCodeInvalidInput, err.Error())
	}
	return nil
}

func noControlChars(value interface{}) error {
	s, _ := value.(string)
	if strings.ContainsAny(s, "\x00\n\r\t") {
		return fmt.Errorf("contains invalid characters")
	}
	return nil
}
