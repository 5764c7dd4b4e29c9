package ldclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewUserHasKeyOnly(t *testing.T) {
	user := NewUser("some.key")
	assert.Equal(t, "some.key", *user.Key)
	assert.Nil(t, user.Anonymous)
}

func TestNewAnonymousUser(t *testing.T) {
	user := NewAnonymousUser("some.key")
	assert.Equal(t, "some.key", *user.Key)
	if assert.NotNil(t, user.Anonymous) {
		assert.True(t, *user.Anonymous)
	}
}

func TestUserValueOfBuiltInAttributes(t *testing.T) {
	anonymous := true
	custom := map[string]interface{}{"legs": 4}
	user := User{
		Key:       strPtr("key-value"),
		Secondary: strPtr("secondary-value"),
		Ip:        strPtr("ip-value"),
		Country:   strPtr("country-value"),
		Email:     strPtr("email-value"),
		FirstName: strPtr("firstName-value"),
		LastName:  strPtr("lastName-value"),
		Avatar:    strPtr("avatar-value"),
		Name:      strPtr("name-value"),
		Anonymous: &anonymous,
		Custom:    &custom,
	}
	for _, attr := range []string{
		"key", "secondary", "ip", "country", "email", "firstName", "lastName", "avatar", "name",
	} {
		assert.Equal(t, attr+"-value", user.valueOf(attr), "attribute %s", attr)
	}
	assert.Equal(t, true, user.valueOf("anonymous"))
	assert.Equal(t, 4, user.valueOf("legs"))
}

func TestUserValueOfUnsetAttributesIsNil(t *testing.T) {
	user := User{}
	for _, attr := range []string{
		"key", "secondary", "ip", "country", "email", "firstName", "lastName", "avatar", "name",
		"anonymous", "some-custom-attr",
	} {
		assert.Nil(t, user.valueOf(attr), "attribute %s", attr)
	}
}

func TestUserValueOfMissingCustomAttributeIsNil(t *testing.T) {
	custom := map[string]interface{}{"legs": 4}
	user := User{Key: strPtr("key"), Custom: &custom}
	assert.Nil(t, user.valueOf("wings"))
}
