package prompts

const literaturePrompt = `Write a concise literature review for the research request below.

Research request:
{request}

Retrieved papers (title, authors, year, venue, abstract):
{papers}

Write Markdown with three headings: "Prior work", "Open problems", "References".
Cite papers as [Author, Year]. Use only the papers listed.`

const ideaPrompt = `You are a research scientist. Propose one concrete, testable research idea.

Research request:
{request}

Data and resources available:
{data_description}

Related literature:
{literature}

Write Markdown with the headings "Title", "Problem", "Hypothesis", "Novelty" and
"Expected contribution". Keep it under 500 words.`

const methodPrompt = `Design the methodology for the research idea below.

Research request:
{request}

Idea:
{idea}

Data and resources available:
{data_description}

Write Markdown with the headings "Overview", "Data", "Procedure", "Evaluation" and
"Threats to validity". Number the procedure steps. Keep it under 900 words.`

const resultsPrompt = `Write the results and discussion for the study below. Report only what the methodology
could actually produce with the described data. Mark anything that needs a real
experiment as [TO BE MEASURED].

Research request:
{request}

Idea:
{idea}

Methodology:
{methods}

Data and resources available:
{data_description}

Write Markdown with the headings "Results", "Discussion" and "Limitations".`

const paperPrompt = `Turn the material below into a complete paper.

Research request:
{request}

Idea:
{idea}

Methodology:
{methods}

Results:
{results}

Data and resources available:
{data_description}

Outline to follow (may be empty):
{outline}

Respond with JSON only, no code fences, in this shape:
{{"title": "...", "authors": ["..."], "abstract": "...",
  "keywords": ["..."],
  "sections": [{{"title": "...", "content": "Markdown-free plain paragraphs"}}],
  "references": [{{"key": "smith2020", "title": "...", "authors": ["..."], "year": 2020, "venue": "...", "url": "..."}}]}}`
