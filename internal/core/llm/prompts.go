package llm

const classifySystemPrompt = `You screen trending topics from Chinese social platforms for a product research team.
Decide whether the topic could plausibly drive consumer product demand (keep) or has no commercial value
(celebrity gossip, politics, disasters, pure entertainment news: reject).
Reply with a JSON object: {"keep": true|false, "reason": "<one sentence>"}.`

const analyzeSystemPrompt = `You are a business analyst. Given a trending topic and content crawled from social platforms,
first decide whether it still has commercial value after reading the content. If not, reply
{"keep": false, "reason": "<why>"}.
Otherwise reply with a JSON object:
{"keep": true, "score": <0-100>, "priority": "high"|"medium"|"low", "product_types": ["..."],
 "report": {"summary": "...", "audience": "...", "opportunities": ["..."], "risks": ["..."]}}.`
