// Package chatbot suggests verses for a free-text message.
//
// A message is matched against a table of topics, each a list of keywords
// pointing at one or more verses. Keywords are found by case-insensitive
// substring search first; romanised keywords that do not occur literally are
// then compared word by word with [phonetic.Matcher], so that "anxeity" or a
// speech-to-text "atachment" still finds its topic. Every matching topic
// contributes its verses; when none matches the fallback verse is suggested.
//
// The bot keeps no conversation state. Its rules can be replaced at runtime
// with [Bot.SetRules].
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/MrWong99/gitapractice/internal/config"
	"github.com/MrWong99/gitapractice/internal/observe"
	"github.com/MrWong99/gitapractice/internal/phonetic"
	"github.com/MrWong99/gitapractice/internal/verse"
)

// DefaultReply is the text sent with every suggestion unless configured
// otherwise.
const DefaultReply = config.DefaultReply

// FallbackTopic is the topic label used when no keyword matched.
const FallbackTopic = "fallback"

// minFuzzyLen is the shortest message word considered for phonetic matching.
// Shorter words match far too much.
const minFuzzyLen = 4

// Key identifies a verse.
type Key struct {
	Chapter int
	VerseID string
}

func (k Key) String() string { return fmt.Sprintf("%d/%s", k.Chapter, k.VerseID) }

// Topic maps keywords to verses.
type Topic struct {
	Name     string
	Keywords []string
	Verses   []Key
}

// Rules is the complete behaviour of a [Bot].
type Rules struct {
	Topics   []Topic
	Fallback Key
	Reply    string
}

// DefaultRules returns the built-in topic table.
func DefaultRules() Rules {
	return Rules{
		Topics: []Topic{
			{
				Name:     "anxiety",
				Keywords: []string{"anxiety", "worry", "fear", "भय", "चिंता"},
				Verses:   []Key{{Chapter: 12, VerseID: "12.15"}},
			},
			{
				Name:     "duty",
				Keywords: []string{"duty", "काम", "फल", "result", "attachment"},
				Verses:   []Key{{Chapter: 2, VerseID: "2.47"}},
			},
		},
		Fallback: Key{Chapter: 2, VerseID: "2.50"},
		Reply:    DefaultReply,
	}
}

// RulesFromConfig converts the chatbot section of the configuration. Empty
// parts fall back to [DefaultRules].
func RulesFromConfig(cfg config.ChatbotConfig) Rules {
	r := DefaultRules()
	if len(cfg.Topics) > 0 {
		r.Topics = make([]Topic, 0, len(cfg.Topics))
		for _, t := range cfg.Topics {
			topic := Topic{Name: t.Name, Keywords: append([]string(nil), t.Keywords...)}
			for _, v := range t.Verses {
				topic.Verses = append(topic.Verses, Key{Chapter: v.Chapter, VerseID: v.VerseID})
			}
			r.Topics = append(r.Topics, topic)
		}
	}
	if !cfg.Fallback.IsZero() {
		r.Fallback = Key{Chapter: cfg.Fallback.Chapter, VerseID: cfg.Fallback.VerseID}
	}
	if cfg.Reply != "" {
		r.Reply = cfg.Reply
	}
	return r
}

// Answer is the bot's response. It encodes as {"reply": ..., "verses": [...]}.
type Answer struct {
	Reply  string      `json:"reply"`
	Verses []verse.Ref `json:"verses"`

	// Topics names the matched topics, or [FallbackTopic].
	Topics []string `json:"-"`
}

// Option configures a [Bot].
type Option func(*Bot)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bot) { b.metrics = m }
}

// WithMatcher replaces the phonetic matcher used for misspelt keywords.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(b *Bot) { b.matcher = m }
}

// Bot answers chat messages. It is safe for concurrent use.
type Bot struct {
	dataset *verse.Dataset
	matcher *phonetic.Matcher
	metrics *observe.Metrics
	rules   atomic.Pointer[compiled]
}

type compiledTopic struct {
	name     string
	keywords []string // lower-cased
	fuzzy    []string // romanised single-word keywords for phonetic matching
	verses   []verse.Ref
}

type compiled struct {
	topics   []compiledTopic
	fallback verse.Ref
	reply    string
}

// New creates a [Bot] answering from dataset with rules.
func New(dataset *verse.Dataset, rules Rules, opts ...Option) (*Bot, error) {
	b := &Bot{dataset: dataset}
	for _, opt := range opts {
		opt(b)
	}
	if b.matcher == nil {
		// Stricter than the search defaults: a chat message has many
		// unrelated words that must not trigger a topic.
		b.matcher = phonetic.New(phonetic.WithPhoneticThreshold(0.85), phonetic.WithFuzzyThreshold(0.90))
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	if err := b.SetRules(rules); err != nil {
		return nil, err
	}
	return b, nil
}

// SetRules validates rules against the dataset and swaps them in. On error
// the previous rules stay active.
func (b *Bot) SetRules(rules Rules) error {
	c, err := b.compile(rules)
	if err != nil {
		return err
	}
	b.rules.Store(c)
	return nil
}

func (b *Bot) compile(rules Rules) (*compiled, error) {
	var errs []error
	c := &compiled{reply: rules.Reply}
	if c.reply == "" {
		c.reply = DefaultReply
	}

	fallback, err := b.dataset.Verse(rules.Fallback.Chapter, rules.Fallback.VerseID)
	if err != nil {
		errs = append(errs, fmt.Errorf("fallback %s: %w", rules.Fallback, err))
	}
	c.fallback = verse.Ref{Chapter: rules.Fallback.Chapter, Verse: fallback}

	for i, t := range rules.Topics {
		ct := compiledTopic{name: t.Name}
		if ct.name == "" {
			ct.name = fmt.Sprintf("topic%d", i)
		}
		for _, kw := range t.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			ct.keywords = append(ct.keywords, kw)
			if toks := phonetic.Tokens(kw); len(toks) == 1 && utf8.RuneCountInString(toks[0]) >= minFuzzyLen {
				ct.fuzzy = append(ct.fuzzy, toks[0])
			}
		}
		if len(ct.keywords) == 0 {
			errs = append(errs, fmt.Errorf("topic %q: no keywords", ct.name))
		}
		if len(t.Verses) == 0 {
			errs = append(errs, fmt.Errorf("topic %q: no verses", ct.name))
		}
		for _, k := range t.Verses {
			v, err := b.dataset.Verse(k.Chapter, k.VerseID)
			if err != nil {
				errs = append(errs, fmt.Errorf("topic %q verse %s: %w", ct.name, k, err))
				continue
			}
			ct.verses = append(ct.verses, verse.Ref{Chapter: k.Chapter, Verse: v})
		}
		c.topics = append(c.topics, ct)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("chatbot: invalid rules: %w", err)
	}
	return c, nil
}

// Reply suggests verses for message. Topics are checked in table order and a
// verse suggested by several topics appears once.
func (b *Bot) Reply(ctx context.Context, message string) Answer {
	ctx, span := observe.StartSpan(ctx, "chatbot.reply")
	defer span.End()

	c := b.rules.Load()
	text := strings.ToLower(message)

	var words []string
	for _, w := range phonetic.Tokens(message) {
		if utf8.RuneCountInString(w) >= minFuzzyLen {
			words = append(words, w)
		}
	}

	ans := Answer{Reply: c.reply, Verses: []verse.Ref{}}
	seen := make(map[Key]bool)
	for _, t := range c.topics {
		how := b.matchTopic(ctx, t, text, words)
		if how == "" {
			continue
		}
		ans.Topics = append(ans.Topics, t.name)
		for _, v := range t.verses {
			k := Key{Chapter: v.Chapter, VerseID: v.ID}
			if !seen[k] {
				seen[k] = true
				ans.Verses = append(ans.Verses, v)
			}
		}
		observe.Logger(ctx).Debug("chatbot topic matched", "topic", t.name, "via", how)
	}
	if len(ans.Topics) == 0 {
		ans.Topics = []string{FallbackTopic}
		ans.Verses = append(ans.Verses, c.fallback)
	}

	for _, t := range ans.Topics {
		b.metrics.RecordChatbotReply(ctx, t)
	}
	return ans
}

// matchTopic reports how t matched: "keyword", "phonetic", or "" for no
// match.
func (b *Bot) matchTopic(ctx context.Context, t compiledTopic, text string, words []string) string {
	for _, kw := range t.keywords {
		if strings.Contains(text, kw) {
			return "keyword"
		}
	}
	if len(words) == 0 {
		return ""
	}
	for _, kw := range t.fuzzy {
		if best, score, ok := b.matcher.Match(kw, words); ok {
			observe.Logger(ctx).Debug("chatbot phonetic keyword", "keyword", kw, "word", best, "score", score)
			return "phonetic"
		}
	}
	return ""
}
