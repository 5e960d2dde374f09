package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistinctMentions(t *testing.T) {
	mentions := []Mention{
		{UserID: "a"}, {UserID: "a"}, {UserID: "b"},
		{UserID: "self"}, {UserID: "bot", Bot: true},
	}
	assert.Equal(t, 2, DistinctMentions("self", mentions))
	assert.Equal(t, 0, DistinctMentions("self", nil))
}

func TestMatchFilter(t *testing.T) {
	assert := assert.New(t)
	word, ok := MatchFilter("this is REALLY Bad", []string{"", "bad"})
	assert.True(ok)
	assert.Equal("bad", word)

	_, ok = MatchFilter("fine message", []string{"bad"})
	assert.False(ok)
}

func TestInviteCodes(t *testing.T) {
	assert := assert.New(t)
	content := "join https://discord.gg/abc123 or discordapp.com/invite/XyZ and discord.gg/abc123 again, not discord.com/channels/1"
	assert.Equal([]string{"abc123", "XyZ"}, InviteCodes(content))
	assert.Empty(InviteCodes("no links here"))
}

func TestNonEnglishResidue(t *testing.T) {
	assert := assert.New(t)
	assert.Empty(NonEnglishResidue("Hello, world! <:pepe:1234> :)"))
	assert.Empty(NonEnglishResidue("nice 👍🏽 “quoted” … 👨‍👩‍👧 ❤️"))
	assert.Equal("привет", NonEnglishResidue("hi привет"))
	assert.Equal("日本", NonEnglishResidue("日本 ok"))

	assert.Empty(NonEnglishResidue(`¯\_(ツ)_/¯`))
	assert.Empty(NonEnglishResidue("ugh (╯°□°）╯︵ ┻━┻"))
	assert.Empty(NonEnglishResidue("┬─┬ ノ( ゜-゜ノ) calm down"))
	// the pieces of an emoticon are not allowed on their own
	assert.Equal("ノ", NonEnglishResidue("ノ"))
}
