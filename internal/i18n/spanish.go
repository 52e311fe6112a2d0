package i18n

var spanish = map[string]string{
	MsgParticipantsEmpty:      "El archivo está vacío o el formato es incorrecto. Cada participante debe estar en una nueva línea.",
	MsgParticipantsNotArray:   "El archivo JSON debe contener un array de participantes.",
	MsgParticipantsMalformed:  "Error al analizar el archivo. Por favor, revisa el formato del archivo.",
	MsgParticipantsUnreadable: "No se pudo leer el archivo.",
	MsgLocationsEmpty:         "El archivo de ubicaciones está vacío.",
	MsgLocationsNotArray:      "El archivo JSON debe contener un array de ubicaciones.",
	MsgLocationsMalformed:     "Error al analizar el archivo de ubicaciones. Por favor, revisa el formato del archivo.",
	MsgLocationsUnreadable:    "No se pudo leer el archivo de ubicaciones.",
	MsgUnsupportedFileType:    "Tipo de archivo no soportado. Por favor, usa CSV, TXT o JSON.",
	MsgHistoryNotArray:        "El archivo de historial debe contener un array de sorteos.",
	MsgHistoryMalformed:       "Error al analizar el archivo de historial.",
	MsgFileMissing:            "No se subió ningún archivo.",
	MsgFileTooLarge:           "El archivo es demasiado grande.",

	MsgNoParticipants:            "Por favor, sube una lista de participantes.",
	MsgWinnersTooFew:             "El número de ganadores debe ser al menos 1.",
	MsgWinnersExceedParticipants: "El número de ganadores no puede exceder el número de participantes.",
	MsgWinnersExceedLocations:    "El número de ganadores no puede exceder el número de ubicaciones disponibles.",
	MsgTitleRequired:             "Por favor, proporciona un título para el sorteo.",

	MsgDrawInProgress:         "Ya hay un sorteo en curso.",
	MsgDrawFinished:           "Este sorteo ha finalizado. Inicia un nuevo sorteo para hacer cambios.",
	MsgNoPendingDuplicates:    "No hay duplicados pendientes de decisión.",
	MsgInvalidDuplicateAction: "Acción de duplicados desconocida.",
	MsgRaffleNotFound:         "Sorteo no encontrado.",
	MsgNothingToExport:        "No hay nada para exportar.",
	MsgInvalidRequest:         "Solicitud inválida.",
	MsgInternal:               "Ocurrió un error inesperado.",

	NameSyntheticLocation:   "Ganador #%s",
	NameParticipantFallback: "Participante %s",
	NameLocationFallback:    "Ubicación %s",

	LabelRaffleTitle:         "Título del Sorteo: %s",
	LabelWaitlistTitle:       "Suplentes para el Sorteo: %s",
	LabelDate:                "Fecha: %s",
	LabelLocation:            "Ubicación",
	LabelWinner:              "Ganador",
	LabelWinnerLocation:      "Ubicación del Ganador",
	LabelOrder:               "Orden",
	LabelName:                "Nombre",
	LabelParticipantLocation: "Ubicación del Participante",
	LabelWaitlist:            "Suplentes (por orden de sorteo)",
	LabelCongratulations:     "¡Felicidades a los Ganadores!",
	FilePrefixWinners:        "ganadores",
	FilePrefixWaitlist:       "suplentes",
	FilePrefixUnassigned:     "vacantes",
	FileFallbackTitle:        "sorteo",
}
