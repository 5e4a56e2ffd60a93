package service

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/echoheir/echoheir-service/internal/model"
)

// PersonaReply produces the simulated legacy response to a user message.
// There is no model integration; replies are template-based, tone-aware, and
// deterministic for a given (legacy, message) pair so tests can assert on them.
func PersonaReply(legacy *model.Legacy, message string, tone model.EmotionalTone) string {
	templates := replyTemplates[tone]
	if len(templates) == 0 {
		templates = replyTemplates[model.ToneNeutral]
	}

	h := fnv.New32a()
	h.Write([]byte(legacy.ID.String()))
	h.Write([]byte(message))
	template := templates[int(h.Sum32())%len(templates)]

	reply := strings.ReplaceAll(template, "{name}", firstName(legacy.Name))
	if trait := dominantTrait(legacy); trait != "" {
		reply = strings.ReplaceAll(reply, "{trait}", trait)
	} else {
		reply = strings.ReplaceAll(reply, "{trait}", "thoughtful")
	}
	return reply
}

func firstName(name string) string {
	if idx := strings.IndexByte(name, ' '); idx > 0 {
		return name[:idx]
	}
	return name
}

// dominantTrait picks a stable personality trait key for template substitution.
func dominantTrait(legacy *model.Legacy) string {
	var best string
	for k := range legacy.PersonalityTraits {
		if best == "" || k < best {
			best = k
		}
	}
	return best
}

var replyTemplates = map[model.EmotionalTone][]string{
	model.ToneNeutral: {
		"I hear you. Tell me more about that.",
		"That reminds me of the talks we used to have.",
		"I've been thinking about you too. What else is on your mind?",
	},
	model.ToneJoyful: {
		"That makes me so happy to hear! You always knew how to brighten my day.",
		"Wonderful! I can almost picture your smile right now.",
		"That's the spirit. Hold on to moments like these.",
	},
	model.ToneNostalgic: {
		"Ah, that takes me back. Do you remember the summers we spent together?",
		"Those were good days. I kept every one of those memories close.",
		"Funny how the little things stay with you. I remember it like yesterday.",
	},
	model.ToneComforting: {
		"It's alright. I'm here with you, the way I always was.",
		"Take a deep breath. Whatever it is, you'll come through it.",
		"You were always stronger than you believed. I never doubted you.",
	},
	model.ToneReflective: {
		"That's worth sitting with for a while. What do you think it means?",
		"I asked myself the same question many times. The answer changes as you grow.",
		"Being {trait} runs in the family. Trust where your thoughts are taking you.",
	},
	model.ToneSad: {
		"I know it hurts. It's okay to miss what we had.",
		"I wish I could hold your hand right now. Let the feeling pass through you.",
		"Grief is just love with nowhere to go. Give it somewhere to go.",
	},
}

// ConversationMessageFor summarizes a sent message for the activity feed.
func ConversationMessageFor(legacy *model.Legacy) string {
	return fmt.Sprintf("Had a conversation with %s", legacy.Name)
}
