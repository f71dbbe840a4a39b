package ident

// thaiTable is the fixed transliteration table spec §9's open question
// asks an implementer to pick and document. It is a simplified,
// RTGS-derived (Royal Thai General System) consonant/vowel mapping —
// not a full phonological transliteration, just enough to turn a Thai
// form label into a deterministic, readable ASCII approximation. Each
// rune maps to exactly one string, so the table is single-valued by
// construction.
var thaiTable = map[rune]string{
	// consonants
	'ก': "k", 'ข': "kh", 'ฃ': "kh", 'ค': "kh", 'ฅ': "kh", 'ฆ': "kh",
	'ง': "ng", 'จ': "ch", 'ฉ': "ch", 'ช': "ch", 'ซ': "s", 'ฌ': "ch",
	'ญ': "y", 'ฎ': "d", 'ฏ': "t", 'ฐ': "th", 'ฑ': "th", 'ฒ': "th",
	'ณ': "n", 'ด': "d", 'ต': "t", 'ถ': "th", 'ท': "th", 'ธ': "th",
	'น': "n", 'บ': "b", 'ป': "p", 'ผ': "ph", 'ฝ': "f", 'พ': "ph",
	'ฟ': "f", 'ภ': "ph", 'ม': "m", 'ย': "y", 'ร': "r", 'ล': "l",
	'ว': "w", 'ศ': "s", 'ษ': "s", 'ส': "s", 'ห': "h", 'ฬ': "l",
	'อ': "", 'ฮ': "h",
	// vowels and tone-neutral marks
	'ะ': "a", 'ั': "a", 'า': "a", 'ำ': "am", 'ิ': "i", 'ี': "i",
	'ึ': "ue", 'ื': "ue", 'ุ': "u", 'ู': "u", 'เ': "e", 'แ': "ae",
	'โ': "o", 'ใ': "ai", 'ไ': "ai", 'ๅ': "a", '็': "", '์': "",
	// digits
	'๐': "0", '๑': "1", '๒': "2", '๓': "3", '๔': "4",
	'๕': "5", '๖': "6", '๗': "7", '๘': "8", '๙': "9",
}
