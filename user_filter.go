package ldclient

import (
	"encoding/json"

	"golang.org/x/exp/slices"

	"github.com/gor-st/go-server-sdk/ldlog"
)

// scrubbedUser is a copy of a User with private attributes removed and listed.
type scrubbedUser struct {
	User
	PrivateAttributes []string `json:"privateAttrs,omitempty"`
}

type userFilter struct {
	allAttributesPrivate    bool
	globalPrivateAttributes []string
	loggers                 ldlog.Loggers
}

func newUserFilter(config Config) userFilter {
	return userFilter{
		allAttributesPrivate:    config.AllAttributesPrivate,
		globalPrivateAttributes: config.PrivateAttributeNames,
		loggers:                 config.Loggers,
	}
}

// scrubUser removes the user properties that have been marked private, either globally in
// the configuration or per-user, and records their names. The user key is never private.
func (uf userFilter) scrubUser(user User) *scrubbedUser { //nolint:gocyclo
	if len(user.PrivateAttributeNames) == 0 && len(uf.globalPrivateAttributes) == 0 &&
		!uf.allAttributesPrivate {
		return &scrubbedUser{User: user}
	}

	isPrivate := map[string]bool{}
	for _, n := range uf.globalPrivateAttributes {
		isPrivate[n] = true
	}
	for _, n := range user.PrivateAttributeNames {
		isPrivate[n] = true
	}

	scrubbed := scrubbedUser{User: user}
	scrubbed.User.PrivateAttributeNames = nil
	privateAttrs := make([]string, 0, len(isPrivate))

	if user.Custom != nil {
		newCustom := map[string]interface{}{}
		for k, v := range *user.Custom {
			if uf.allAttributesPrivate || isPrivate[k] {
				privateAttrs = append(privateAttrs, k)
			} else {
				newCustom[k] = v
			}
		}
		scrubbed.Custom = &newCustom
	}

	for name, fieldPtr := range map[string]**string{
		"secondary": &scrubbed.Secondary,
		"ip":        &scrubbed.Ip,
		"country":   &scrubbed.Country,
		"email":     &scrubbed.Email,
		"firstName": &scrubbed.FirstName,
		"lastName":  &scrubbed.LastName,
		"avatar":    &scrubbed.Avatar,
		"name":      &scrubbed.Name,
	} {
		if *fieldPtr != nil && (uf.allAttributesPrivate || isPrivate[name]) {
			privateAttrs = append(privateAttrs, name)
			*fieldPtr = nil
		}
	}

	// Sorted so that event output is deterministic
	slices.Sort(privateAttrs)
	scrubbed.PrivateAttributes = privateAttrs
	return &scrubbed
}

// serializableUser wraps a scrubbed user for event serialization. A misbehaving custom
// attribute type can make json.Marshal fail or panic; in that case we still serialize the
// user key so that the rest of the event payload is not lost.
type serializableUser struct {
	user    *scrubbedUser
	loggers ldlog.Loggers
}

func (su serializableUser) MarshalJSON() (output []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			su.logSerializationError(r)
			output, err = su.keyOnlyJSON()
		}
	}()
	output, err = json.Marshal(su.user)
	if err != nil {
		su.logSerializationError(err)
		output, err = su.keyOnlyJSON()
	}
	return
}

func (su serializableUser) logSerializationError(problem interface{}) {
	su.loggers.Errorf("An error occurred while serializing user attributes for key %q: %+v; only the user key will be sent in events",
		optStringValue(su.user.Key), problem)
}

func (su serializableUser) keyOnlyJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{"key": su.user.Key})
}
