package ldclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildUserWithAllAttributes() User {
	custom := map[string]interface{}{
		"useless":  "sensitive",
		"favorite": "blue",
	}
	return User{
		Key:       strPtr("user-key"),
		Secondary: strPtr("abcdef"),
		Ip:        strPtr("1.2.3.4"),
		Country:   strPtr("us"),
		Email:     strPtr("test@example.com"),
		FirstName: strPtr("Sue"),
		LastName:  strPtr("Storm"),
		Avatar:    strPtr("http://avatar"),
		Name:      strPtr("Sue Storm"),
		Anonymous: boolPtr(false),
		Custom:    &custom,
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func TestScrubUserWithNoFilteringReturnsUserUnchanged(t *testing.T) {
	uf := newUserFilter(DefaultConfig)
	u := buildUserWithAllAttributes()
	scrubbed := uf.scrubUser(u)
	assert.Equal(t, u, scrubbed.User)
	assert.Nil(t, scrubbed.PrivateAttributes)
}

func TestScrubUserWithPerUserPrivateAttributes(t *testing.T) {
	uf := newUserFilter(DefaultConfig)
	u := buildUserWithAllAttributes()
	u.PrivateAttributeNames = []string{"email", "favorite"}

	scrubbed := uf.scrubUser(u)
	assert.Nil(t, scrubbed.Email)
	assert.Equal(t, map[string]interface{}{"useless": "sensitive"}, *scrubbed.Custom)
	assert.Equal(t, []string{"email", "favorite"}, scrubbed.PrivateAttributes)

	// other attributes are left alone
	assert.Equal(t, u.Name, scrubbed.Name)
	assert.Equal(t, u.Ip, scrubbed.Ip)

	// the names list itself is not serialized
	assert.Nil(t, scrubbed.User.PrivateAttributeNames)
}

func TestScrubUserWithGlobalPrivateAttributes(t *testing.T) {
	config := DefaultConfig
	config.PrivateAttributeNames = []string{"name", "useless"}
	uf := newUserFilter(config)
	u := buildUserWithAllAttributes()

	scrubbed := uf.scrubUser(u)
	assert.Nil(t, scrubbed.Name)
	assert.Equal(t, map[string]interface{}{"favorite": "blue"}, *scrubbed.Custom)
	assert.Equal(t, []string{"name", "useless"}, scrubbed.PrivateAttributes)
}

func TestScrubUserWithAllAttributesPrivate(t *testing.T) {
	config := DefaultConfig
	config.AllAttributesPrivate = true
	uf := newUserFilter(config)
	u := buildUserWithAllAttributes()

	scrubbed := uf.scrubUser(u)
	assert.Nil(t, scrubbed.Secondary)
	assert.Nil(t, scrubbed.Ip)
	assert.Nil(t, scrubbed.Country)
	assert.Nil(t, scrubbed.Email)
	assert.Nil(t, scrubbed.FirstName)
	assert.Nil(t, scrubbed.LastName)
	assert.Nil(t, scrubbed.Avatar)
	assert.Nil(t, scrubbed.Name)
	assert.Equal(t, map[string]interface{}{}, *scrubbed.Custom)
	assert.Equal(t, []string{"avatar", "country", "email", "favorite", "firstName",
		"ip", "lastName", "name", "secondary", "useless"}, scrubbed.PrivateAttributes)
}

func TestScrubUserNeverRemovesKeyOrAnonymous(t *testing.T) {
	config := DefaultConfig
	config.AllAttributesPrivate = true
	uf := newUserFilter(config)
	u := buildUserWithAllAttributes()

	scrubbed := uf.scrubUser(u)
	assert.Equal(t, u.Key, scrubbed.Key)
	assert.Equal(t, u.Anonymous, scrubbed.Anonymous)
}

func TestScrubUserPrivateAttributeNamesAreSorted(t *testing.T) {
	uf := newUserFilter(DefaultConfig)
	u := buildUserWithAllAttributes()
	u.PrivateAttributeNames = []string{"name", "email", "avatar"}

	scrubbed := uf.scrubUser(u)
	assert.Equal(t, []string{"avatar", "email", "name"}, scrubbed.PrivateAttributes)
}
