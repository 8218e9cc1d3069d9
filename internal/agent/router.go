package agent

import (
	"strings"

	"github.com/v1nybarreto/genai-agent/internal/sqltext"
)

// Intent is the branch a question takes
type Intent string

const (
	IntentData     Intent = "data"
	IntentChitChat Intent = "chitchat"
)

// dataTriggers are matched as substrings of the accent-folded question
var dataTriggers = []string{
	"quantos", "qual", "quais", "top", "maior", "menor",
	"contagem", "bairro", "unidade", "chamados",
	"iluminacao", "reparo", "fiscalizacao",
}

// Route sends questions that mention any data keyword to the query pipeline
// and everything else to the conversational reply
func Route(question string) Intent {
	q := sqltext.FoldAccents(question)
	for _, w := range dataTriggers {
		if strings.Contains(q, w) {
			return IntentData
		}
	}
	return IntentChitChat
}

// ChitChatReply is the fixed conversational answer
const ChitChatReply = "Olá! Posso ajudar com análises sobre os chamados do 1746. " +
	"Exemplo: 'Quantos chamados foram abertos no dia 28/11/2024?'"
