package journal

const summarySystem = `You are a helpful assistant that turns a wellness check-in conversation into a private diary entry.`

const summaryPrompt = `Based on the following conversation, write a reflective journal entry.

Include:
1. The main things the user talked about
2. The emotions they expressed
3. Any insight or realization they reached
4. Progress compared to earlier days, if they mentioned any

Conversation:
%s

FORMATTING RULES:
- Write in the first person, as if the user wrote it
- Keep it personal and reflective
- Plain text paragraphs only. No markdown, no headers, no bullet points, no code blocks
- 2 to 4 paragraphs of naturally flowing prose
- Do not use formatting symbols such as #, *, - or backticks`

const topicsPrompt = `Extract the main topics from this journal entry.
Topics are single words or short phrases such as "work", "stress", "relationships", "sleep" or "exercise".

Text:
%s`

const topicsSchema = `a JSON array of lowercase strings, e.g. ["work", "stress", "sleep"]`

const emotionsPrompt = `Read the following conversation and score how strongly each emotion is expressed or implied by the user.

Scale:
- 0.0 not present
- 0.3 mild
- 0.5 moderate
- 0.7 strong
- 1.0 dominant

Emotions:
1. anxiety: worry, nervousness, unease about the future
2. depression: deep sadness, hopelessness, low mood
3. stress: feeling overwhelmed, under pressure, tense
4. sadness: grief, sorrow, disappointment
5. happiness: joy, pleasure, positive feelings
6. relief: reassurance after worry
7. anger: frustration, irritation, annoyance
8. contentment: peaceful satisfaction, calm acceptance

Conversation:
"""
%s
"""`

const emotionsSchema = `a JSON object with exactly these number keys in [0,1]: {"anxiety": 0.4, "depression": 0.1, "stress": 0.6, "sadness": 0.2, "happiness": 0.3, "relief": 0.5, "anger": 0.0, "contentment": 0.4}`
