package ldclient

// A User contains specific attributes of a user browsing your site. The only mandatory
// property is the Key, which must uniquely identify each user. For authenticated users,
// this may be a username or e-mail address. For anonymous users, this could be an IP
// address or session ID.
//
// Besides the mandatory Key, User supports two kinds of optional attributes: interpreted
// attributes (e.g. Ip and Country) and custom attributes. Interpreted attributes can be
// used in targeting rules directly; custom attributes are matched through the Custom map.
type User struct {
	// Key is the unique key of the user.
	Key *string `json:"key,omitempty" bson:"key,omitempty"`
	// Secondary is an optional secondary identifier that perturbs rollout bucketing.
	Secondary *string `json:"secondary,omitempty" bson:"secondary,omitempty"`
	// Ip is the IP address of the user.
	Ip *string `json:"ip,omitempty" bson:"ip,omitempty"` //nolint:golint
	// Country is the two-letter country code of the user.
	Country *string `json:"country,omitempty" bson:"country,omitempty"`
	// Email is the email address of the user.
	Email *string `json:"email,omitempty" bson:"email,omitempty"`
	// FirstName is the first name of the user.
	FirstName *string `json:"firstName,omitempty" bson:"firstName,omitempty"`
	// LastName is the last name of the user.
	LastName *string `json:"lastName,omitempty" bson:"lastName,omitempty"`
	// Avatar is the avatar URL of the user.
	Avatar *string `json:"avatar,omitempty" bson:"avatar,omitempty"`
	// Name is the full name of the user.
	Name *string `json:"name,omitempty" bson:"name,omitempty"`
	// Anonymous indicates whether the user is anonymous. Anonymous users are not
	// included on the dashboard's user list.
	Anonymous *bool `json:"anonymous,omitempty" bson:"anonymous,omitempty"`
	// Custom holds arbitrary custom attributes for use in targeting rules.
	Custom *map[string]interface{} `json:"custom,omitempty" bson:"custom,omitempty"`
	// PrivateAttributeNames lists attribute names (either built-in or custom) that
	// should be excluded from analytics events for this user.
	PrivateAttributeNames []string `json:"privateAttributeNames,omitempty" bson:"privateAttributeNames,omitempty"`
}

// NewUser creates a new user identified by the given key.
func NewUser(key string) User {
	return User{Key: &key}
}

// NewAnonymousUser creates a new anonymous user identified by the given key.
func NewAnonymousUser(key string) User {
	anonymous := true
	return User{Key: &key, Anonymous: &anonymous}
}

// valueOf returns the named attribute of the user, looking first at built-in
// attributes and then at the custom map.
func (user User) valueOf(attr string) interface{} {
	switch attr {
	case "key":
		return optStringValue(user.Key)
	case "secondary":
		return optStringValue(user.Secondary)
	case "ip":
		return optStringValue(user.Ip)
	case "country":
		return optStringValue(user.Country)
	case "email":
		return optStringValue(user.Email)
	case "firstName":
		return optStringValue(user.FirstName)
	case "lastName":
		return optStringValue(user.LastName)
	case "avatar":
		return optStringValue(user.Avatar)
	case "name":
		return optStringValue(user.Name)
	case "anonymous":
		if user.Anonymous != nil {
			return *user.Anonymous
		}
		return nil
	}

	// Select a custom attribute
	if user.Custom == nil {
		return nil
	}
	value, ok := (*user.Custom)[attr]
	if !ok {
		return nil
	}
	return value
}

func optStringValue(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
