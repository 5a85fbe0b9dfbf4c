package internal

import "time"

// Credential holds the account used to log in
type Credential struct {
	Mail     string `json:"mail" mapstructure:"mail"`
	Password string `json:"-" mapstructure:"password"`
}

// Configured reports whether both fields are set
func (c Credential) Configured() bool {
	return c.Mail != "" && c.Password != ""
}

// SearchFilter is one user-configured search query with its post-filtering
// predicates. Time windows are signed duration strings relative to server time.
type SearchFilter struct {
	Q               string      `json:"q"`
	Targets         []string    `json:"targets"`
	Sort            string      `json:"sort"`
	JSONFilter      interface{} `json:"jsonFilter,omitempty"`
	OpenTimeFrom    string      `json:"openTimeFrom,omitempty"`
	OpenTimeTo      string      `json:"openTimeTo,omitempty"`
	StartTimeFrom   string      `json:"startTimeFrom,omitempty"`
	StartTimeTo     string      `json:"startTimeTo,omitempty"`
	LiveEndTimeFrom string      `json:"liveEndTimeFrom,omitempty"`
	LiveEndTimeTo   string      `json:"liveEndTimeTo,omitempty"`
	PPV             *bool       `json:"ppv,omitempty"`
}

// DefaultSort is used when a filter does not set one
const DefaultSort = "+startTime"

// Program is a single search hit
type Program struct {
	ContentID   string                 `json:"contentId"`
	ChannelID   string                 `json:"channelId,omitempty"`
	Title       string                 `json:"title,omitempty"`
	OpenTime    *time.Time             `json:"openTime,omitempty"`
	StartTime   *time.Time             `json:"startTime,omitempty"`
	LiveEndTime *time.Time             `json:"liveEndTime,omitempty"`
	Fields      map[string]interface{} `json:"-"`
}

// TimeshiftReservation is an entry of the reservation list
type TimeshiftReservation struct {
	VID     string     `json:"vid"`
	Title   string     `json:"title"`
	Status  string     `json:"status"`
	Unwatch bool       `json:"unwatch"`
	Expire  *time.Time `json:"expire,omitempty"`
}

// Outcome is the terminal result of one registration attempt
type Outcome int

const (
	OutcomeRegistered Outcome = iota
	OutcomeAlreadyRegistered
	OutcomeNotSupported
	OutcomeExpired
	OutcomeNotFound
	OutcomeMaxReservation
	OutcomeInvalidResponse
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRegistered:
		return "Registered"
	case OutcomeAlreadyRegistered:
		return "AlreadyRegistered"
	case OutcomeNotSupported:
		return "NotSupported"
	case OutcomeExpired:
		return "Expired"
	case OutcomeNotFound:
		return "NotFound"
	case OutcomeMaxReservation:
		return "MaxReservation"
	case OutcomeInvalidResponse:
		return "InvalidResponse"
	default:
		return "Unknown"
	}
}

// ErrorType maps the outcome onto the error taxonomy. Registered has none.
func (o Outcome) ErrorType() (ErrorType, bool) {
	switch o {
	case OutcomeAlreadyRegistered:
		return ErrTSAlreadyRegistered, true
	case OutcomeNotSupported:
		return ErrTSNotSupported, true
	case OutcomeExpired:
		return ErrTSRegistrationExpired, true
	case OutcomeNotFound:
		return ErrNotFound, true
	case OutcomeMaxReservation:
		return ErrTSMaxReservation, true
	case OutcomeInvalidResponse:
		return ErrInvalidResponse, true
	default:
		return 0, false
	}
}

// WarningSet selects which recoverable outcomes are reported on stderr
type WarningSet struct {
	TSNotSupported        bool `mapstructure:"tsNotSupported"`
	TSRegistrationExpired bool `mapstructure:"tsRegistrationExpired"`
	TSMaxReservation      bool `mapstructure:"tsMaxReservation"`
}

// Enabled reports whether warnings of the given type are printed
func (w WarningSet) Enabled(t ErrorType) bool {
	switch t {
	case ErrTSNotSupported:
		return w.TSNotSupported
	case ErrTSRegistrationExpired:
		return w.TSRegistrationExpired
	case ErrTSMaxReservation:
		return w.TSMaxReservation
	default:
		return false
	}
}
