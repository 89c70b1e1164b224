package keyboard

func init() {
	register(newUS())
	register(newFR())
}

func newUS() *Layout {
	b := newBuilder("us", "English (US), QWERTY")

	b.letters(posQ, "qwertyuiop")
	b.letters(posA, "asdfghjkl")
	b.letters(posZ, "zxcvbnm")

	b.row(pos1, "1234567890-=")
	b.shiftRow(pos1, "!@#$%^&*()_+")
	b.row(posLBracket, "[]")
	b.shiftRow(posLBracket, "{}")
	b.row(posSemicolon, ";'`")
	b.shiftRow(posSemicolon, ":\"~")
	b.row(posBackslash, "\\")
	b.shiftRow(posBackslash, "|")
	b.row(posComma, ",./")
	b.shiftRow(posComma, "<>?")

	return b.build()
}

func newFR() *Layout {
	b := newBuilder("fr", "French, AZERTY")

	b.letters(posQ, "azertyuiop")
	b.letters(posA, "qsdfghjklm")
	b.letters(posZ, "wxcvbn")

	b.row(pos1, "&é\"'(-è_çà)=")
	b.shiftRow(pos1, "1234567890°+")
	b.altGrRow(pos2, "~#{[|`\\^@]}")
	b.row(posRBracket, "$")
	b.shiftRow(posRBracket, "£")
	b.altGrRow(posRBracket, "¤")
	b.row(posQuote, "ù²")
	b.shiftRow(posQuote, "%")
	b.row(posBackslash, "*")
	b.shiftRow(posBackslash, "µ")
	b.row(posM, ",;:!")
	b.shiftRow(posM, "?./§")
	b.row(scOEM102[0], "<")
	b.shiftRow(scOEM102[0], ">")
	b.altGrRow(posE, "€")

	return b.build()
}
