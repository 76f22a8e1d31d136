package assistant

import (
	"fmt"
	"strings"

	"github.com/kalambet/redactor/internal/llm"
)

// Task selects the prompt template.
type Task int

const (
	TaskGenerate Task = iota
	TaskCorrect
	TaskSummarize
)

func (t Task) String() string {
	switch t {
	case TaskCorrect:
		return "correct"
	case TaskSummarize:
		return "summarize"
	default:
		return "generate"
	}
}

// maxExemplars caps how many reference texts go into one prompt.
const maxExemplars = 3

var systemRoles = map[Task]string{
	TaskGenerate:  "Eres un experto en comunicación empresarial y redacción profesional.",
	TaskCorrect:   "Eres un editor experto en comunicación empresarial y redacción profesional.",
	TaskSummarize: "Eres un experto en comunicación empresarial y creación de resúmenes profesionales.",
}

var closings = map[Task]string{
	TaskGenerate:  "Por favor, genera el texto completo:",
	TaskCorrect:   "Por favor, proporciona el texto corregido y mejorado:",
	TaskSummarize: "Por favor, proporciona el resumen:",
}

// promptInput carries everything a template needs.
type promptInput struct {
	task         Task
	input        string
	maxWords     int
	instructions string
	company      string
	exemplars    []string
}

// buildMessages renders the system and user messages. The user message is
// the task block, then the company block, then the exemplars, then the
// caller's instructions, each separated by a blank line.
func buildMessages(in promptInput) []llm.Message {
	sections := []string{taskBlock(in)}
	if c := strings.TrimSpace(in.company); c != "" {
		sections = append(sections, "CONTEXTO DE LA EMPRESA:\n"+c)
	}
	if ex := exemplarBlock(in.exemplars); ex != "" {
		sections = append(sections, ex)
	}
	if instr := strings.TrimSpace(in.instructions); instr != "" {
		sections = append(sections, "INSTRUCCIONES ADICIONALES:\n"+instr)
	}
	sections = append(sections, closings[in.task])

	return []llm.Message{
		llm.System(systemRoles[in.task]),
		llm.User(strings.Join(sections, "\n\n")),
	}
}

func taskBlock(in promptInput) string {
	var sb strings.Builder
	switch in.task {
	case TaskCorrect:
		sb.WriteString("Tu tarea es corregir y mejorar el siguiente texto, mejorando:\n")
		sb.WriteString("- Ortografía y gramática\n")
		sb.WriteString("- Claridad y fluidez\n")
		sb.WriteString("- Estilo profesional\n")
		sb.WriteString("- Estructura y organización\n")
		sb.WriteString("- Coherencia\n\n")
		sb.WriteString("TEXTO ORIGINAL:\n")
		sb.WriteString(in.input)
	case TaskSummarize:
		sb.WriteString("Tu tarea es crear un resumen conciso y profesional del siguiente texto:\n\n")
		sb.WriteString("TEXTO ORIGINAL:\n")
		sb.WriteString(in.input)
		sb.WriteString("\n\nREQUISITOS:\n")
		fmt.Fprintf(&sb, "- El resumen debe tener aproximadamente %d palabras\n", in.maxWords)
		sb.WriteString("- Debe mantener las ideas principales y el mensaje clave\n")
		sb.WriteString("- Debe ser claro y profesional\n")
		sb.WriteString("- Mantener el tono original")
	default:
		sb.WriteString("Tu tarea es generar un texto profesional, claro y coherente sobre el siguiente tema:\n\n")
		sb.WriteString("TEMA: ")
		sb.WriteString(in.input)
		sb.WriteString("\n\nREQUISITOS:\n")
		fmt.Fprintf(&sb, "- El texto debe tener aproximadamente %d palabras\n", in.maxWords)
		sb.WriteString("- Debe ser profesional pero cercano\n")
		sb.WriteString("- Debe mantener un tono empresarial apropiado\n")
		sb.WriteString("- Estructura clara con párrafos bien organizados")
	}
	return sb.String()
}

func exemplarBlock(texts []string) string {
	var sb strings.Builder
	n := 0
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if n == 0 {
			sb.WriteString("--- Textos de Referencia (estilo deseado) ---\n")
		}
		n++
		fmt.Fprintf(&sb, "\nEjemplo %d:\n%s\n", n, t)
		if n == maxExemplars {
			break
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
