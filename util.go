package ldclient

import (
	"fmt"
	"net/http"
	"time"
)

// HttpStatusError describes an HTTP protocol error response from the service.
type HttpStatusError struct { //nolint:golint
	Message string
	Code    int
}

func (e HttpStatusError) Error() string {
	return e.Message
}

// ParseFloat64 converts a numeric value of any numeric type to float64, returning nil for
// anything that is not a number.
func ParseFloat64(value interface{}) *float64 {
	switch v := value.(type) {
	case float64:
		return &v
	case float32:
		f := float64(v)
		return &f
	case int:
		f := float64(v)
		return &f
	case int8:
		f := float64(v)
		return &f
	case int16:
		f := float64(v)
		return &f
	case int32:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	case uint:
		f := float64(v)
		return &f
	case uint8:
		f := float64(v)
		return &f
	case uint16:
		f := float64(v)
		return &f
	case uint32:
		f := float64(v)
		return &f
	case uint64:
		f := float64(v)
		return &f
	}
	return nil
}

// ParseTime converts a date/time value to a *time.Time. It accepts an RFC3339/ISO8601
// timestamp string, or a number of milliseconds since the Unix epoch. Any other input
// returns nil.
func ParseTime(input interface{}) *time.Time {
	if input == nil {
		return nil
	}

	// First check if we can easily convert it to a number. If so, treat it as epoch millis.
	if unixMillis := ParseFloat64(input); unixMillis != nil {
		t := unixMillisToUtcTime(*unixMillis)
		return &t
	}

	if timeStr, ok := input.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, timeStr); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

// unixMillisToUtcTime converts a millisecond Unix time into a time.Time in UTC.
func unixMillisToUtcTime(unixMillis float64) time.Time {
	return time.Unix(0, int64(unixMillis)*int64(time.Millisecond)).UTC()
}

// MakeAllVersionedDataMap returns a map of version objects grouped by namespace that can be
// used to initialize a feature store.
func MakeAllVersionedDataMap(
	features map[string]*FeatureFlag,
	segments map[string]*Segment) map[VersionedDataKind]map[string]VersionedData {

	allData := make(map[VersionedDataKind]map[string]VersionedData)
	allData[Features] = make(map[string]VersionedData)
	allData[Segments] = make(map[string]VersionedData)
	for k, v := range features {
		allData[Features][k] = v
	}
	for k, v := range segments {
		allData[Segments][k] = v
	}
	return allData
}

func checkStatusCode(statusCode int, url string) error {
	if statusCode == http.StatusUnauthorized {
		return HttpStatusError{
			Message: fmt.Sprintf("Invalid SDK key when accessing URL: %s. Verify that your SDK key is correct.", url),
			Code:    statusCode,
		}
	}
	if statusCode == http.StatusNotFound {
		return HttpStatusError{
			Message: fmt.Sprintf("Resource not found when accessing URL: %s. Verify that this resource exists.", url),
			Code:    statusCode,
		}
	}
	if statusCode/100 != 2 {
		return HttpStatusError{
			Message: fmt.Sprintf("Unexpected response code: %d when accessing URL: %s", statusCode, url),
			Code:    statusCode,
		}
	}
	return nil
}

func checkForHttpError(statusCode int, url string) error { //nolint:golint
	return checkStatusCode(statusCode, url)
}

// Tests whether an HTTP error status represents a condition that might resolve on its own if
// we retry, or at least should not make us permanently stop sending requests.
func isHTTPErrorRecoverable(statusCode int) bool {
	if statusCode >= 400 && statusCode < 500 {
		switch statusCode {
		case 400: // bad request
			return true
		case 408: // request timeout
			return true
		case 429: // too many requests
			return true
		default:
			return false // all other 4xx errors are unrecoverable
		}
	}
	return true
}

func httpErrorMessage(statusCode int, context string, recoverableMessage string) string {
	statusDesc := ""
	if statusCode == 401 {
		statusDesc = " (invalid SDK key)"
	}
	resultMessage := recoverableMessage
	if !isHTTPErrorRecoverable(statusCode) {
		resultMessage = "giving up permanently"
	}
	return fmt.Sprintf("Received HTTP error %d%s for %s - %s",
		statusCode, statusDesc, context, resultMessage)
}
