package email

const (
	subjectLeadOfferFmt   = "Nuovo lead! – %s"
	subjectLeadDetailsFmt = "Dettagli lead sbloccati – %s"
)
