package session

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

// TokenPattern matches a well-formed two-word token.
var TokenPattern = regexp.MustCompile(`^[a-z]+-[a-z]+$`)

// words is the token vocabulary: 200 short, visually distinct lowercase
// words. Two independent uniform picks give 2*log2(200), about 15.3 bits of
// entropy. Order matters only for readability.
var words = []string{
	"ocean", "forest", "mountain", "river", "desert", "valley", "island", "canyon",
	"tiger", "eagle", "dolphin", "wolf", "bear", "fox", "owl", "shark",
	"piano", "guitar", "violin", "drums", "flute", "trumpet", "harp", "saxophone",
	"ruby", "emerald", "diamond", "sapphire", "pearl", "crystal", "amber", "jade",
	"storm", "thunder", "lightning", "rainbow", "sunset", "sunrise", "aurora", "comet",
	"castle", "bridge", "tower", "garden", "temple", "palace", "fortress", "lighthouse",
	"voyage", "quest", "journey", "adventure", "discovery", "expedition", "exploration", "mission",
	"wisdom", "courage", "honor", "justice", "freedom", "peace", "harmony", "unity",
	"crimson", "azure", "golden", "silver", "violet", "copper", "scarlet", "indigo",
	"mystic", "ancient", "eternal", "infinite", "divine", "sacred", "blessed", "noble",
	"warrior", "guardian", "sentinel", "champion", "defender", "protector", "knight", "hero",
	"phoenix", "dragon", "griffin", "unicorn", "pegasus", "sphinx", "chimera", "hydra",
	"whisper", "echo", "melody", "rhythm", "cadence", "symphony", "chorus", "ballad",
	"summit", "peak", "cliff", "ridge", "slope", "plateau", "gorge", "ravine",
	"stream", "brook", "creek", "waterfall", "rapid", "cascade", "spring", "pond",
	"meadow", "prairie", "field", "grove", "thicket", "woodland", "clearing", "glade",
	"dawn", "dusk", "twilight", "midnight", "moonlight", "starlight", "daybreak", "nightfall",
	"breeze", "gale", "hurricane", "tornado", "cyclone", "tempest", "blizzard", "typhoon",
	"ember", "flame", "spark", "blaze", "inferno", "pyre", "beacon", "torch",
	"frost", "ice", "snow", "hail", "glacier", "icicle", "tundra", "winter",
	"bloom", "blossom", "petal", "nectar", "pollen", "fragrance", "bouquet", "garland",
	"orbit", "galaxy", "nebula", "constellation", "planet", "asteroid", "meteor", "cosmos",
	"treasure", "fortune", "riches", "bounty", "prize", "reward", "jewel", "crown",
	"legend", "myth", "tale", "saga", "epic", "chronicle", "story", "fable",
	"magic", "spell", "charm", "enchantment", "sorcery", "wizardry", "alchemy", "potion",
}

// GenerateToken returns a "word1-word2" token with both words drawn
// uniformly and independently from the vocabulary using the platform
// CSPRNG. Equal words are allowed.
func GenerateToken() string {
	return pickWord() + "-" + pickWord()
}

func pickWord() string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		// crypto/rand on supported platforms does not fail; refuse to
		// degrade to a predictable token if it ever does.
		panic("session: csprng unavailable: " + err.Error())
	}
	return words[n.Int64()]
}

// VocabularySize reports the number of distinct words available to tokens.
func VocabularySize() int {
	return len(words)
}
