// Package gemini implements ai.AIProvider on Google's Gemini API using the genai SDK.
package gemini
