package survey

import (
	"fmt"
	"strings"
)

// Question is one demographic prompt with its fixed option list.
type Question struct {
	Key     DemographicKey
	Title   string
	Options []string
}

// Prompt renders the question with numbered options.
func (q Question) Prompt() string {
	var b strings.Builder
	b.WriteString(q.Title)
	for i, o := range q.Options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, o)
	}
	return b.String()
}

// PreferNotToAnswer is the canonical opt-out option text.
const PreferNotToAnswer = "Prefiero no contestar"

var regions = []string{
	"Amazonas",
	"Áncash",
	"Apurímac",
	"Arequipa",
	"Ayacucho",
	"Cajamarca",
	"Callao",
	"Cusco",
	"Huancavelica",
	"Huánuco",
	"Ica",
	"Junín",
	"La Libertad",
	"Lambayeque",
	"Lima Metropolitana",
	"Lima Provincias",
	"Loreto",
	"Madre de Dios",
	"Moquegua",
	"Pasco",
	"Piura",
	"Puno",
	"San Martín",
	"Tacna",
	"Tumbes",
	"Ucayali",
	"Otro / extranjero",
}

// Questions is the demographic questionnaire, indexed like DemographicKeys.
var Questions = []Question{
	{
		Key:     KeyGender,
		Title:   "¿Con qué género te identificas?",
		Options: []string{"Masculino", "Femenino", "Otro", PreferNotToAnswer},
	},
	{
		Key:     KeyAge,
		Title:   "¿Cuántos años tienes?",
		Options: []string{"Menos de 16", "16-29", "30-45", "46 a +", PreferNotToAnswer},
	},
	{
		Key:   KeyPopulation,
		Title: "¿Te sientes parte de alguna de estas poblaciones?",
		Options: []string{
			"Pueblo afroperuano",
			"Comunidad LGTBIQ+",
			"Pueblos indígenas u originarios",
			"Personas con discapacidad",
			"Ninguna de las anteriores",
			PreferNotToAnswer,
		},
	},
	{
		Key:   KeyEthnicity,
		Title: "¿Con qué grupo étnico te identificas?",
		Options: []string{
			"Quechua",
			"Aimara",
			"Indígena de la Amazonía",
			"Afroperuano",
			"Blanco",
			"Mestizo",
			"Asiático o nikkei",
			"Otro",
			PreferNotToAnswer,
		},
	},
	{
		Key:   KeyOccupation,
		Title: "¿Cuál es tu ocupación?",
		Options: []string{
			"Estudiante",
			"Trabajador dependiente",
			"Trabajador independiente",
			"Emprendedor",
			"Servidor público",
			"Representante comunitario",
			"Sin ocupación fija",
			"Otro",
			PreferNotToAnswer,
		},
	},
	{
		Key:   KeyEducation,
		Title: "¿Cuál es tu nivel de instrucción?",
		Options: []string{
			"Sin instrucción",
			"Primaria",
			"Secundaria",
			"Superior técnica o universitaria",
			"Postgrado",
			"Otro",
			PreferNotToAnswer,
		},
	},
	{
		Key:     KeyOriginRegion,
		Title:   "¿De qué región eres?",
		Options: regions,
	},
	{
		Key:     KeyCabildoRegion,
		Title:   "¿En qué región estás haciendo este cabildo?",
		Options: regions,
	},
}

var stationPrompts = map[int]string{
	1: "Cuéntanos cómo te sentiste después de la conversación. Puedes hacerlo como quieras: texto, audio, sticker, lo que mejor te salga. Habla como si se lo contaras a un/a amigo/a. Aquí van unas preguntas para inspirarte:\n¿Qué te choca o te frustra de vivir en este país?\n¿Y qué te da esperanza o te hace sentir que sí se puede?\nPara terminar, marca #.",
	2: "Cuéntanos cómo te sentiste después de la dinámica. Puedes hacerlo como quieras: texto, audio, sticker, lo que mejor te salga. Habla como si se lo contaras a un/a amigo/a. Aquí van unas preguntas para inspirarte:\n¿Crees que el lugar y las condiciones en las que nacimos marcan lo que podemos lograr?\n¿Cómo podemos convivir y construir con gente que piensa distinto?\nPara terminar, marca #.",
	3: "Cuéntanos cómo te sentiste después de la dinámica. Puedes hacerlo como quieras: texto, audio, sticker, lo que mejor te salga. Habla como si se lo contaras a un/a amigo/a. Aquí van unas preguntas para inspirarte:\nSi fueras presidente/a, ¿qué harías para no decepcionar a tu generación?\n¿Cuáles serían tus prioridades?\nPara terminar, marca #.",
}

var stationTitles = map[int]string{
	1: "Estación 1: La catarsis",
	2: "Estación 2: Desde nuestras circunstancias y diferencias",
	3: "Estación 3: Yo Presidente",
}

// Fixed copy sent by the conversation engine.
var (
	Welcome = []string{
		"¡Hola! Bienvenido/a a Ya Toca\nEste es un espacio para decir lo que pensamos, lo que sentimos y lo que queremos para nuestro país.\n\n¡Gracias por escribirme!\n\n¿Qué te gustaría hacer hoy?\n\n1. Estoy participando de un Cabildo y quiero dejar mis respuestas\n\nSi quieres hacernos una pregunta, puedes escribirnos a conectamos@yatoca.pe",
	}
	CompletedNotice = []string{
		"Ya completaste el Cabildo. Gracias por compartir. Tu voz ahora se une a la de miles de jóvenes que creen que sí podemos construir algo distinto.",
	}
	VentOffer       = "2. Quiero dejar un mensaje libre"
	MenuGuidance    = []string{"Por favor elige la opción 1 para continuar con el Cabildo."}
	AskCabildoName  = []string{"¡Genial, comencemos! ¿Cómo se llama el Cabildo en el que estás participando? Pon el nombre que tu grupo haya elegido."}
	InvalidOption   = "Por favor elige una opción válida (número o texto)."
	StationAck      = []string{"Gracias. Cuando termines, marca #."}
	AfterStation    = []string{"¿Qué quieres hacer ahora?", "1.- Quiero seguir con la otra estación", "2.- Quiero salir"}
	AfterStationFix = []string{"Elige 1 (seguir) o 2 (salir)."}
	EarlyExit       = []string{"Gracias por tu buena vibra y por hablar con sinceridad. Tu voz ahora se une a la de miles de jóvenes en todo el Perú."}
	FinalPhrase     = []string{
		"¡Lo logramos! Llegamos al final. 🙌",
		"Gracias por tu buena vibra y por hablar con sinceridad. Tu voz ahora se une a la de miles de jóvenes en todo el Perú.\n",
		"Mensaje final",
		"YA TOCA... (completa la frase con una palabra).",
	}
	ConsentAsk = []string{
		"He leído y acepto las condiciones de tratamiento de mis datos personales, conforme a la Ley N 29733.",
		"1. Sí, acepto",
	}
	ConsentFix       = []string{"Por favor elige 1 (Sí, acepto)."}
	LegacyConsentAsk = []string{
		"He leído y acepto las condiciones de tratamiento de mis datos personales, conforme a la Ley N 29733.",
		"1. Sí, acepto",
		"2. No acepto",
	}
	LegacyConsentFix = []string{"Por favor elige 1 (Sí, acepto) o 2 (No acepto)."}
	Thanks           = []string{"¡Gracias! Eso es todo. Encuéntranos en nuestras diferentes redes como yatoca.pe, síguenos y entérate de todo lo que se viene!"}
	VentIntro        = []string{"¡Este es tu espacio para soltar lo que piensas, sueñas o quieres cambiar! Escríbelo, grábalo, manda un sticker… como quieras. Aquí no hay reglas, solo tu voz. Para terminar, marca #."}
	VentThanks       = []string{"Gracias por compartir. Tu voz ahora se une a la de miles de jóvenes que creen que sí podemos construir algo distinto."}
	IdleNotice       = []string{"Cerramos la conversación por inactividad. Si deseas continuar, escribe cualquier mensaje."}
	ResetNotice      = []string{"Tu estado ha sido restablecido. Escribe cualquier mensaje para empezar de cero."}
)

// WelcomeFor picks the welcome variant for the participant's completion
// status.
func WelcomeFor(p *Profile, ventEnabled bool) []string {
	if !p.CabildoCompleted {
		return Welcome
	}
	if ventEnabled {
		return append(append([]string{}, CompletedNotice...), VentOffer)
	}
	return CompletedNotice
}

// StationPrompt returns the fixed prompt for a station.
func StationPrompt(station int) string {
	return stationPrompts[station]
}

// StationMenu renders the remaining-station menu. The opening line differs
// when no station has been completed yet.
func StationMenu(remaining []int) []string {
	lines := make([]string, 0, 2+len(remaining))
	if len(remaining) == len(Stations) {
		lines = append(lines, "¡Gracias por tus respuestas! Ahora sí, empecemos el Cabildo.")
	} else {
		lines = append(lines, "¡Perfecto, seguimos!")
	}
	lines = append(lines, "¿En qué número de estación te encuentras?")
	for _, n := range remaining {
		lines = append(lines, fmt.Sprintf("%d. %s", n, stationTitles[n]))
	}
	return lines
}

// SegmentForStation returns the external segment tag of a station.
func SegmentForStation(station int) string {
	return fmt.Sprintf("station%d", station)
}

// SegmentFinal is the external segment tag of the closing phrase.
const SegmentFinal = "final"
